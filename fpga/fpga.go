// Package fpga drives the FPGA key-recovery core over a flexsoc link,
// exposing it behind the same interface as the software attack. The core
// takes a 48-bit keystream window and reports the register it converged
// on; because that register is the state as of the end of the window, it
// is rewound 45 clocks in software before the key is derived.
package fpga

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinylabs/crypto-rtl-cores/crypto1"
	"github.com/tinylabs/crypto-rtl-cores/flexsoc"
)

// Recovery core register map.
const (
	regKeyLow   = 0x04 // 32-bit recovered register, low word
	regKeyHigh  = 0x0C // 16-bit recovered register, high half
	regStatus   = 0x0E // bit 0 = done, bit 1 = found
	regBitsLow  = 0x10 // 32-bit bitstream, low word
	regBitsHigh = 0x14 // 16-bit bitstream, high half
	regStart    = 0x18 // rising edge starts recovery
)

const (
	statusDone  = 0x01
	statusFound = 0x02

	// The core searches a 48-bit window and reports the register as of
	// its end; 45 reverse clocks bring it back to the reported-key
	// convention of the software path.
	rewindClocks = 45

	pollTries = 100
)

// ErrCollaborator wraps any transport or core failure.
var ErrCollaborator = errors.New("fpga: recovery core failure")

// Device is one attached recovery core.
type Device struct {
	bus RegisterBus

	// StartSettle is the pause between deasserting and asserting the
	// start strobe; PollInterval the delay between status polls.
	StartSettle  time.Duration
	PollInterval time.Duration
}

// RegisterBus is the slice of the flexsoc protocol the recovery core
// needs. *flexsoc.Conn implements it.
type RegisterBus interface {
	WriteWord(addr, val uint32) error
	WriteHalf(addr uint32, val uint16) error
	WriteByte(addr uint32, val uint8) error
	ReadWord(addr uint32) (uint32, error)
	ReadHalf(addr uint32) (uint16, error)
	ReadByte(addr uint32) (uint8, error)
	Close() error
}

// New wraps an open register bus.
func New(bus RegisterBus) *Device {
	return &Device{
		bus:          bus,
		StartSettle:  100 * time.Millisecond,
		PollInterval: 500 * time.Millisecond,
	}
}

// Open connects to the recovery core on a serial device.
func Open(device string) (*Device, error) {
	conn, err := flexsoc.Open(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	return New(conn), nil
}

// Close releases the underlying link.
func (d *Device) Close() error {
	return d.bus.Close()
}

// Recover hands the first 48 bits of bs to the core, waits for
// completion and returns the recovered key. A clean no-find maps to
// crypto1.ErrNotFound; transport failures wrap ErrCollaborator.
func (d *Device) Recover(bs crypto1.BitVector) (uint64, error) {
	if err := bs.Validate(); err != nil {
		return 0, err
	}
	if len(bs) < 48 {
		return 0, crypto1.ErrTooShort
	}
	window := bs[:48].Uint()

	if err := d.bus.WriteWord(regBitsLow, uint32(window)); err != nil {
		return 0, d.wrap("load bitstream low", err)
	}
	if err := d.bus.WriteHalf(regBitsHigh, uint16(window>>32)); err != nil {
		return 0, d.wrap("load bitstream high", err)
	}

	// Strobe start
	if err := d.bus.WriteByte(regStart, 0); err != nil {
		return 0, d.wrap("clear start", err)
	}
	time.Sleep(d.StartSettle)
	if err := d.bus.WriteByte(regStart, 1); err != nil {
		return 0, d.wrap("assert start", err)
	}

	var stat uint8
	for i := 0; i < pollTries; i++ {
		var err error
		stat, err = d.bus.ReadByte(regStatus)
		if err != nil {
			return 0, d.wrap("poll status", err)
		}
		if stat&statusDone != 0 {
			break
		}
		time.Sleep(d.PollInterval)
	}
	if stat&statusDone == 0 {
		return 0, fmt.Errorf("%w: timed out waiting for completion", ErrCollaborator)
	}
	if stat&statusFound == 0 {
		return 0, crypto1.ErrNotFound
	}

	high, err := d.bus.ReadHalf(regKeyHigh)
	if err != nil {
		return 0, d.wrap("read key high", err)
	}
	low, err := d.bus.ReadWord(regKeyLow)
	if err != nil {
		return 0, d.wrap("read key low", err)
	}

	c, err := crypto1.NewFromState(uint64(high)<<32 | uint64(low))
	if err != nil {
		return 0, fmt.Errorf("%w: core reported invalid register", ErrCollaborator)
	}
	for i := 0; i < rewindClocks; i++ {
		c.StepReverse(0, false)
	}
	return c.Key(), nil
}

func (d *Device) wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCollaborator, op, err)
}
