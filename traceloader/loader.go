// Package traceloader loads captured Crypto-1 keystream traces from
// various sources, including compressed archives (ZIP, 7z, gzip, RAR).
//
// A trace file (.c1t) is text: '#' comment lines, then the keystream as a
// hex value (0x prefix optional) with an optional decimal bit count. The
// default bit count is four per hex digit.
package traceloader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tinylabs/crypto-rtl-cores/crypto1"
)

// Magic bytes for format detection
var (
	magicZIP    = []byte{0x50, 0x4B, 0x03, 0x04}
	magicZIPEnd = []byte{0x50, 0x4B, 0x05, 0x06} // empty zip
	magic7z     = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	magicGzip   = []byte{0x1F, 0x8B}
	magicRAR    = []byte{0x52, 0x61, 0x72, 0x21} // "Rar!"
)

// Maximum trace size (1MB safety limit; real captures are a few bytes)
const maxTraceSize = 1 * 1024 * 1024

// ErrNoTrace is returned when no .c1t file is found in an archive
var ErrNoTrace = errors.New("no .c1t file found in archive")

// ErrUnsupportedFormat is returned for unrecognized file formats
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrFileTooLarge is returned when extracted content exceeds size limit
var ErrFileTooLarge = errors.New("file exceeds maximum size limit")

// ErrBadTrace is returned when the trace text cannot be parsed
var ErrBadTrace = errors.New("malformed trace file")

// formatType represents the detected file format
type formatType int

const (
	formatUnknown formatType = iota
	formatRawTrace
	formatZIP
	format7z
	formatGzip
	formatRAR
)

// Load reads a keystream trace from a file path, automatically detecting
// and extracting from archives. Returns the bitstream, the name of the
// trace file (useful for display), and any error encountered.
func Load(path string) (crypto1.BitVector, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	// Read header for magic byte detection
	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return nil, "", fmt.Errorf("failed to read file header: %w", err)
	}
	header = header[:n]

	format := detectFormat(header, path)

	var data []byte
	var name string
	switch format {
	case formatRawTrace:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, "", fmt.Errorf("failed to seek file: %w", err)
		}
		data, err = limitedRead(f)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read trace: %w", err)
		}
		name = filepath.Base(path)

	case formatZIP:
		data, name, err = extractFromZIP(path)

	case format7z:
		data, name, err = extractFrom7z(path)

	case formatGzip:
		data, name, err = extractFromGzip(path)

	case formatRAR:
		data, name, err = extractFromRAR(path)

	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, "", err
	}

	bs, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", name, err)
	}
	return bs, name, nil
}

// Parse decodes the trace text format into a bitstream.
func Parse(data []byte) (crypto1.BitVector, error) {
	var fields []string
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields = append(fields, strings.Fields(line)...)
	}
	if len(fields) == 0 || len(fields) > 2 {
		return nil, ErrBadTrace
	}

	digits := strings.TrimPrefix(strings.ToLower(fields[0]), "0x")
	if digits == "" {
		return nil, ErrBadTrace
	}
	bs := make(crypto1.BitVector, 0, 4*len(digits))
	for _, d := range digits {
		var v uint32
		switch {
		case d >= '0' && d <= '9':
			v = uint32(d - '0')
		case d >= 'a' && d <= 'f':
			v = uint32(d-'a') + 10
		default:
			return nil, fmt.Errorf("%w: bad hex digit %q", ErrBadTrace, d)
		}
		bs = append(bs, uint8(v>>3)&1, uint8(v>>2)&1, uint8(v>>1)&1, uint8(v)&1)
	}

	if len(fields) == 2 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad bit count %q", ErrBadTrace, fields[1])
		}
		switch {
		case n < len(bs):
			// Shrinking is only a re-pad: the dropped leading bits must
			// all be zero.
			for _, b := range bs[:len(bs)-n] {
				if b != 0 {
					return nil, fmt.Errorf("%w: value wider than %d bits", ErrBadTrace, n)
				}
			}
			bs = bs[len(bs)-n:]
		case n > len(bs):
			pad := make(crypto1.BitVector, n-len(bs))
			bs = append(pad, bs...)
		}
	}
	return bs, nil
}

// detectFormat determines the file format based on magic bytes and extension
func detectFormat(header []byte, path string) formatType {
	ext := strings.ToLower(filepath.Ext(path))

	// Check magic bytes first (more reliable)
	if len(header) >= 4 {
		if bytes.HasPrefix(header, magicZIP) || bytes.HasPrefix(header, magicZIPEnd) {
			return formatZIP
		}
		if bytes.HasPrefix(header, magicRAR) {
			return formatRAR
		}
	}
	if len(header) >= 6 && bytes.HasPrefix(header, magic7z) {
		return format7z
	}
	if len(header) >= 2 && bytes.HasPrefix(header, magicGzip) {
		return formatGzip
	}

	// Fall back to extension
	switch ext {
	case ".c1t":
		return formatRawTrace
	case ".zip":
		return formatZIP
	case ".7z":
		return format7z
	case ".gz", ".tgz":
		return formatGzip
	case ".rar":
		return formatRAR
	}

	return formatUnknown
}

// isTraceFile checks if a filename has a .c1t extension (case-insensitive)
func isTraceFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".c1t")
}

// limitedRead reads from r up to maxTraceSize bytes, returning an error if exceeded
func limitedRead(r io.Reader) ([]byte, error) {
	lr := io.LimitReader(r, maxTraceSize+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if len(data) > maxTraceSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}
