// Package flexsoc speaks the byte-level register protocol of the flexsoc
// bridge over a serial link. Every transaction is one request frame: a
// control byte, a 32-bit big-endian address, and (for writes) a
// big-endian value. Writes are acknowledged with a single 0x80 byte;
// reads reply with a status byte (low bit set = access fault) followed by
// the big-endian value.
package flexsoc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// The bridge UART runs fixed at 12 MBaud, 8N1.
const baudRate = 12000000

const (
	ctlBase  = 0x80
	ctlWrite = 0x08
	ackByte  = 0x80
)

// Access sizes as encoded in the control byte.
const (
	sizeByte = 0x0
	sizeHalf = 0x1
	sizeWord = 0x2
)

// ErrBadResponse is returned when a write is not acknowledged with 0x80.
var ErrBadResponse = errors.New("flexsoc: invalid response")

// ErrAccessFault is returned when the bridge flags a failed bus access.
var ErrAccessFault = errors.New("flexsoc: access error")

// Conn is one flexsoc session. Transactions are synchronous; Conn is not
// safe for concurrent use.
type Conn struct {
	t io.ReadWriteCloser
}

// New wraps an existing transport, typically for testing against an
// in-memory implementation.
func New(t io.ReadWriteCloser) *Conn {
	return &Conn{t: t}
}

// Open opens the serial device and flushes both directions.
func Open(device string) (*Conn, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open device %s: %w", device, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush input on %s: %w", device, err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush output on %s: %w", device, err)
	}
	return New(port), nil
}

// Close closes the underlying transport.
func (c *Conn) Close() error {
	return c.t.Close()
}

// control assembles the request control byte: a length code in the
// upper nibble (3 for reads, 4 + size for writes), the write flag, and
// the access size in the low bits.
func control(write bool, size byte) byte {
	plen := byte(3)
	ctl := byte(ctlBase)
	if write {
		ctl |= ctlWrite
		plen = 4 + size
	}
	return ctl | plen<<4 | size
}

// WriteWord writes a 32-bit value.
func (c *Conn) WriteWord(addr, val uint32) error {
	frame := make([]byte, 0, 9)
	frame = append(frame, control(true, sizeWord))
	frame = binary.BigEndian.AppendUint32(frame, addr)
	frame = binary.BigEndian.AppendUint32(frame, val)
	return c.write(frame)
}

// WriteHalf writes a 16-bit value.
func (c *Conn) WriteHalf(addr uint32, val uint16) error {
	frame := make([]byte, 0, 7)
	frame = append(frame, control(true, sizeHalf))
	frame = binary.BigEndian.AppendUint32(frame, addr)
	frame = binary.BigEndian.AppendUint16(frame, val)
	return c.write(frame)
}

// WriteByte writes an 8-bit value.
func (c *Conn) WriteByte(addr uint32, val uint8) error {
	frame := make([]byte, 0, 6)
	frame = append(frame, control(true, sizeByte))
	frame = binary.BigEndian.AppendUint32(frame, addr)
	frame = append(frame, val)
	return c.write(frame)
}

// ReadWord reads a 32-bit value.
func (c *Conn) ReadWord(addr uint32) (uint32, error) {
	var buf [5]byte
	if err := c.read(sizeWord, addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[1:]), nil
}

// ReadHalf reads a 16-bit value.
func (c *Conn) ReadHalf(addr uint32) (uint16, error) {
	var buf [3]byte
	if err := c.read(sizeHalf, addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[1:]), nil
}

// ReadByte reads an 8-bit value.
func (c *Conn) ReadByte(addr uint32) (uint8, error) {
	var buf [2]byte
	if err := c.read(sizeByte, addr, buf[:]); err != nil {
		return 0, err
	}
	return buf[1], nil
}

func (c *Conn) write(frame []byte) error {
	if _, err := c.t.Write(frame); err != nil {
		return fmt.Errorf("flexsoc: send: %w", err)
	}
	var ack [1]byte
	if _, err := io.ReadFull(c.t, ack[:]); err != nil {
		return fmt.Errorf("flexsoc: ack: %w", err)
	}
	if ack[0] != ackByte {
		return fmt.Errorf("%w: 0x%02X", ErrBadResponse, ack[0])
	}
	return nil
}

func (c *Conn) read(size byte, addr uint32, reply []byte) error {
	frame := make([]byte, 0, 5)
	frame = append(frame, control(false, size))
	frame = binary.BigEndian.AppendUint32(frame, addr)
	if _, err := c.t.Write(frame); err != nil {
		return fmt.Errorf("flexsoc: send: %w", err)
	}
	if _, err := io.ReadFull(c.t, reply); err != nil {
		return fmt.Errorf("flexsoc: reply: %w", err)
	}
	if reply[0]&1 != 0 {
		return fmt.Errorf("%w: status 0x%02X", ErrAccessFault, reply[0])
	}
	return nil
}
