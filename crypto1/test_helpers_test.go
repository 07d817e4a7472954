package crypto1

import (
	"math/rand"
	"testing"
)

// mustFromState builds a cipher or fails the test.
func mustFromState(t *testing.T, state uint64) *Cipher {
	t.Helper()
	c, err := NewFromState(state)
	if err != nil {
		t.Fatalf("NewFromState(0x%012X): %v", state, err)
	}
	return c
}

// mustFromKey builds a cipher or fails the test.
func mustFromKey(t *testing.T, key uint64) *Cipher {
	t.Helper()
	c, err := NewFromKey(key)
	if err != nil {
		t.Fatalf("NewFromKey(0x%012X): %v", key, err)
	}
	return c
}

// mustEmit clocks n bits or fails the test.
func mustEmit(t *testing.T, c *Cipher, n int) BitVector {
	t.Helper()
	out, err := c.Emit(n, nil)
	if err != nil {
		t.Fatalf("Emit(%d): %v", n, err)
	}
	return out
}

// randState48 draws a nonzero 48-bit state.
func randState48(rng *rand.Rand) uint64 {
	s := rng.Uint64() & stateMask
	if s == 0 {
		s = 1
	}
	return s
}
