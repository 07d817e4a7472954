// Package cli provides a headless runner for key recovery.
// It loads traces, drives the configured backend and reports results;
// all cryptography lives in the library packages.
package cli

import (
	"fmt"
	"log"
	"time"

	"github.com/tinylabs/crypto-rtl-cores/adapter"
	"github.com/tinylabs/crypto-rtl-cores/crypto1"
	"github.com/tinylabs/crypto-rtl-cores/traceloader"
)

// Runner wraps a recovery backend for command-line use.
type Runner struct {
	rec adapter.Recoverer
}

// NewRunner creates a new Runner around the given backend.
func NewRunner(rec adapter.Recoverer) *Runner {
	return &Runner{rec: rec}
}

// RecoverTrace loads a keystream trace from disk and recovers its key.
func (r *Runner) RecoverTrace(path string) (uint64, error) {
	bs, name, err := traceloader.Load(path)
	if err != nil {
		return 0, err
	}
	log.Printf("loaded %s: %d bits", name, len(bs))
	return r.RecoverBits(bs)
}

// RecoverBits recovers the key behind an in-memory bitstream and logs
// how long the attack took.
func (r *Runner) RecoverBits(bs crypto1.BitVector) (uint64, error) {
	if len(bs) < 48 {
		return 0, crypto1.ErrTooShort
	}
	start := time.Now()
	key, err := r.rec.Recover(bs)
	if err != nil {
		return 0, err
	}
	log.Printf("recovered key 0x%012X in %v", key, time.Since(start).Round(time.Millisecond))

	// Cross-check: the reported key must regenerate the input stream.
	c, err := crypto1.NewFromKey(key)
	if err != nil {
		return 0, err
	}
	out, err := c.Emit(len(bs), nil)
	if err != nil {
		return 0, err
	}
	for i := range bs {
		if out[i] != bs[i] {
			return 0, fmt.Errorf("key 0x%012X fails to reproduce bit %d", key, i)
		}
	}
	return key, nil
}
