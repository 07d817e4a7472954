package fpga

import (
	"errors"
	"testing"

	"github.com/tinylabs/crypto-rtl-cores/crypto1"
)

// fakeCore emulates the recovery core's register file.
type fakeCore struct {
	words  map[uint32]uint32
	halves map[uint32]uint16
	bytes  map[uint32]uint8

	status   uint8
	keyState uint64 // register the core "converged" on
	started  bool
	polls    int
	failRead bool
	closed   bool
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		words:  make(map[uint32]uint32),
		halves: make(map[uint32]uint16),
		bytes:  make(map[uint32]uint8),
	}
}

func (f *fakeCore) WriteWord(addr, val uint32) error {
	f.words[addr] = val
	return nil
}

func (f *fakeCore) WriteHalf(addr uint32, val uint16) error {
	f.halves[addr] = val
	return nil
}

func (f *fakeCore) WriteByte(addr uint32, val uint8) error {
	f.bytes[addr] = val
	if addr == regStart && val == 1 {
		f.started = true
	}
	return nil
}

func (f *fakeCore) ReadWord(addr uint32) (uint32, error) {
	if addr == regKeyLow {
		return uint32(f.keyState), nil
	}
	return f.words[addr], nil
}

func (f *fakeCore) ReadHalf(addr uint32) (uint16, error) {
	if addr == regKeyHigh {
		return uint16(f.keyState >> 32), nil
	}
	return f.halves[addr], nil
}

func (f *fakeCore) ReadByte(addr uint32) (uint8, error) {
	if f.failRead {
		return 0, errors.New("framing error")
	}
	if addr == regStatus {
		f.polls++
		if !f.started {
			return 0, nil
		}
		return f.status, nil
	}
	return f.bytes[addr], nil
}

func (f *fakeCore) Close() error {
	f.closed = true
	return nil
}

func newTestDevice(core *fakeCore) *Device {
	d := New(core)
	d.StartSettle = 0
	d.PollInterval = 0
	return d
}

// TestRecoverRewindsReportedRegister loads the fake with the register a
// real core would report, the initial register clocked forward 45 times,
// and expects the key of the initial register back
func TestRecoverRewindsReportedRegister(t *testing.T) {
	const initial = uint64(0x27568D75631F)

	c, err := crypto1.NewFromState(initial)
	if err != nil {
		t.Fatal(err)
	}
	bs, err := c.Emit(48, nil)
	if err != nil {
		t.Fatal(err)
	}

	forward, _ := crypto1.NewFromState(initial)
	if _, err := forward.Emit(45, nil); err != nil {
		t.Fatal(err)
	}

	core := newFakeCore()
	core.status = statusDone | statusFound
	core.keyState = forward.State()

	key, err := newTestDevice(core).Recover(bs)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	wantKey, _ := crypto1.NewFromState(initial)
	if key != wantKey.Key() {
		t.Fatalf("recovered 0x%012X, expected 0x%012X", key, wantKey.Key())
	}

	// The 48-bit window must have been split across the two registers
	window := bs.Uint()
	if got := core.words[regBitsLow]; got != uint32(window) {
		t.Errorf("bitstream low: 0x%08X, expected 0x%08X", got, uint32(window))
	}
	if got := core.halves[regBitsHigh]; got != uint16(window>>32) {
		t.Errorf("bitstream high: 0x%04X, expected 0x%04X", got, uint16(window>>32))
	}
	if !core.started {
		t.Error("start was never strobed")
	}
}

// TestRecoverNoFind maps a done-without-found status to ErrNotFound
func TestRecoverNoFind(t *testing.T) {
	core := newFakeCore()
	core.status = statusDone

	_, err := newTestDevice(core).Recover(make(crypto1.BitVector, 48))
	if !errors.Is(err, crypto1.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestRecoverTimeout gives up after the poll budget
func TestRecoverTimeout(t *testing.T) {
	core := newFakeCore()
	core.status = 0 // never done

	_, err := newTestDevice(core).Recover(make(crypto1.BitVector, 48))
	if !errors.Is(err, ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
	if core.polls != pollTries {
		t.Errorf("polled %d times, expected %d", core.polls, pollTries)
	}
}

// TestRecoverTransportFailure wraps bus errors
func TestRecoverTransportFailure(t *testing.T) {
	core := newFakeCore()
	core.failRead = true

	_, err := newTestDevice(core).Recover(make(crypto1.BitVector, 48))
	if !errors.Is(err, ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
}

// TestRecoverInputValidation rejects short and malformed bitstreams
func TestRecoverInputValidation(t *testing.T) {
	d := newTestDevice(newFakeCore())
	if _, err := d.Recover(make(crypto1.BitVector, 47)); !errors.Is(err, crypto1.ErrTooShort) {
		t.Errorf("47 bits: expected ErrTooShort, got %v", err)
	}
	bad := make(crypto1.BitVector, 48)
	bad[0] = 7
	if _, err := d.Recover(bad); !errors.Is(err, crypto1.ErrInvalidBit) {
		t.Errorf("bad bit: expected ErrInvalidBit, got %v", err)
	}
}

// TestClose releases the bus
func TestClose(t *testing.T) {
	core := newFakeCore()
	d := newTestDevice(core)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !core.closed {
		t.Error("bus not closed")
	}
}
