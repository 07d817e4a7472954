// Package adapter binds a configuration to a concrete key-recovery
// backend. Both the in-process pipeline and the FPGA collaborator sit
// behind the same Recoverer interface, so callers never care which one
// does the work.
package adapter

import (
	"fmt"
	"io"

	"github.com/tinylabs/crypto-rtl-cores/crypto1"
	"github.com/tinylabs/crypto-rtl-cores/fpga"
	"github.com/tinylabs/crypto-rtl-cores/storage"
)

// Recoverer reconstructs the key that produced a keystream.
type Recoverer interface {
	Recover(bs crypto1.BitVector) (uint64, error)
}

// Factory builds Recoverers from a configuration.
type Factory struct{}

// New returns the configured backend. The returned closer is non-nil
// when the backend holds a device that must be released.
func (f *Factory) New(cfg *storage.Config) (Recoverer, io.Closer, error) {
	switch cfg.Backend {
	case "", storage.BackendSoftware:
		opts := crypto1.AttackOptions{
			FirstMatch: cfg.FirstMatch,
			DeepStages: cfg.DeepStages,
		}
		if cfg.ProbTable != "" {
			table, err := crypto1.ReadProbTable(cfg.ProbTable)
			if err != nil {
				return nil, nil, fmt.Errorf("load probability table: %w", err)
			}
			opts.Order = table
		}
		return &software{opts: opts}, nil, nil

	case storage.BackendFPGA:
		dev, err := fpga.Open(cfg.Device)
		if err != nil {
			return nil, nil, err
		}
		return dev, dev, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// software runs the in-process recovery pipeline.
type software struct {
	opts crypto1.AttackOptions
}

// Compile-time interface checks.
var (
	_ Recoverer = (*software)(nil)
	_ Recoverer = (*fpga.Device)(nil)
)

func (s *software) Recover(bs crypto1.BitVector) (uint64, error) {
	keys, err := crypto1.RecoverAll(bs, s.opts)
	if err != nil {
		return 0, err
	}
	return keys[0], nil
}
