package crypto1

import "errors"

// ErrInvalidLength is returned when a key or state does not fit in 48 bits
// or a bit-vector length does not match what an operation requires.
var ErrInvalidLength = errors.New("crypto1: value does not fit register width")

// ErrInvalidBit is returned when a bit value is outside {0,1}.
var ErrInvalidBit = errors.New("crypto1: bit value outside {0,1}")

// ErrTooShort is returned when a recovery input is shorter than the
// 48-bit minimum.
var ErrTooShort = errors.New("crypto1: bitstream shorter than 48 bits")

// ErrNotFound is returned when recovery completes without any surviving
// candidate. This means the input is not valid Crypto-1 keystream.
var ErrNotFound = errors.New("crypto1: no state reproduces the bitstream")
