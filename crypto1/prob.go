package crypto1

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"math/rand"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// Probability table file layout: magic, version byte, crc32 of the raw
// JSON payload, zstd-compressed JSON.
var probMagic = []byte("C1PROB")

const (
	probVersion = 1
	// probPatternLen is the number of keystream bits sampled for the
	// table key: bits 0, 8, 16, ..., 56 (every fourth even-parity bit).
	probPatternLen = 8
	probStreamBits = 8*(probPatternLen-1) + 1
)

// ErrProbTableCorrupt is returned when a table file fails its header or
// integrity check.
var ErrProbTableCorrupt = errors.New("crypto1: probability table corrupt")

// ProbTable ranks, for each 8-bit keystream sample, the sixteen possible
// starting second-layer preimage indices by observed frequency. It is an
// ordering heuristic only: recovery tries all sixteen indices regardless,
// a table merely steers which are tried first.
type ProbTable struct {
	Version int `json:"version"`
	Samples int `json:"samples"`
	// Prob[pattern][i] is the probability that the initial second-layer
	// input is FC.Preimages(firstBit)[i], given the sampled pattern.
	Prob [256][16]float32 `json:"prob"`
}

// BuildProbTable estimates the table by Monte-Carlo: random states are
// clocked 64 bits, the sample pattern and the true starting preimage
// index are tallied, and each row is normalised.
func BuildProbTable(samples int, rng *rand.Rand) *ProbTable {
	var counts [256][16]int
	pre := [2][]uint32{FC.Preimages(0), FC.Preimages(1)}
	for s := 0; s < samples; s++ {
		state := rng.Uint64() & stateMask
		if state == 0 {
			state = 1
		}
		l1 := layer1(state)
		y := FC.Eval(l1)
		c := Cipher{state: state}
		out, _ := c.Emit(64, nil)
		counts[probPattern(out)][preimageIndex(pre[y], l1)]++
	}
	t := &ProbTable{Version: probVersion, Samples: samples}
	for p := range counts {
		total := 0
		for _, n := range counts[p] {
			total += n
		}
		if total == 0 {
			continue
		}
		for i, n := range counts[p] {
			t.Prob[p][i] = float32(n) / float32(total)
		}
	}
	return t
}

// OrderFor returns the sixteen even enumerator indices ordered by
// descending probability for the given bitstream. Streams too short to
// sample, or patterns never observed while building, fall back to the
// identity order with ok == false.
func (t *ProbTable) OrderFor(bs BitVector) ([16]uint8, bool) {
	order := identityOrder()
	if len(bs) < probStreamBits {
		return order, false
	}
	row := t.Prob[probPattern(bs)]
	seen := float32(0)
	for _, p := range row {
		seen += p
	}
	if seen == 0 {
		return order, false
	}
	sort.SliceStable(order[:], func(a, b int) bool {
		return row[order[a]] > row[order[b]]
	})
	return order, true
}

// probPattern samples keystream bits 0, 8, ..., 56, MSB first.
func probPattern(bs BitVector) uint8 {
	var p uint8
	for i := 0; i < probPatternLen; i++ {
		p = p<<1 | bs[8*i]
	}
	return p
}

func preimageIndex(pre []uint32, v uint32) int {
	for i, p := range pre {
		if p == v {
			return i
		}
	}
	panic("crypto1: value missing from preimage set")
}

// WriteFile persists the table as zstd-compressed JSON behind a checked
// header.
func (t *ProbTable) WriteFile(path string) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode probability table: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("init zstd: %w", err)
	}
	defer enc.Close()

	buf := make([]byte, 0, len(probMagic)+5+len(raw)/2)
	buf = append(buf, probMagic...)
	buf = append(buf, probVersion)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(raw))
	buf = enc.EncodeAll(raw, buf)
	return os.WriteFile(path, buf, 0644)
}

// ReadProbTable loads a table written by WriteFile, verifying the header
// and payload checksum.
func ReadProbTable(path string) (*ProbTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	hdr := len(probMagic) + 5
	if len(data) < hdr || string(data[:len(probMagic)]) != string(probMagic) {
		return nil, ErrProbTableCorrupt
	}
	if data[len(probMagic)] != probVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrProbTableCorrupt, data[len(probMagic)])
	}
	wantCRC := binary.BigEndian.Uint32(data[len(probMagic)+1 : hdr])

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data[hdr:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbTableCorrupt, err)
	}
	if crc32.ChecksumIEEE(raw) != wantCRC {
		return nil, ErrProbTableCorrupt
	}
	t := &ProbTable{}
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbTableCorrupt, err)
	}
	return t, nil
}
