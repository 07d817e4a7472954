package crypto1

import (
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"
)

const (
	minBitstream = 48
	searchBits   = 10

	// defaultDeepStages is how many observed bits beyond the search
	// prefix each half keeps extending against before the join. Every
	// stage adds two feedback-contribution bits to the candidate
	// signatures, so pairs whose halves cannot coexist in one register
	// are rejected without ever being assembled.
	defaultDeepStages = 12
	// maxDeepStages keeps the 2-bits-per-stage signature inside 32 bits.
	maxDeepStages = 16

	evenPipelines       = 16
	oddPipelinesPerEven = 16
)

// AttackOptions tunes the recovery pipeline. The zero value asks for all
// matches with the default extension depth and no index ordering.
type AttackOptions struct {
	// FirstMatch aborts the whole pipeline as soon as one candidate
	// verifies. When false every match is enumerated, which is the
	// preferred mode for diagnostics.
	FirstMatch bool
	// DeepStages overrides the post-search extension depth per half.
	// 0 selects the default; values are clamped to the observed length.
	DeepStages int
	// Order supplies the Monte-Carlo index ordering heuristic. Purely an
	// ordering hint: all sixteen indices run either way.
	Order *ProbTable
}

// halfCandidate is one partially extended half-state flowing through a
// pipeline worker.
type halfCandidate struct {
	// win is the 20-bit sliding filter window, newest cell at bit 19.
	win uint32
	// low holds the newest (up to) 24 bits of the half's history,
	// newest bit at bit 0. After the join this is the half's final
	// contribution to the assembled register.
	low uint32
	// sig accumulates two feedback-contribution bits per deep stage.
	// Halves join only when their signatures are equal.
	sig uint32
}

// oddEntry is one finished odd-half candidate in a per-index table,
// sorted by signature so even candidates can probe a run.
type oddEntry struct {
	sig uint32
	low uint32
}

// Recover reconstructs the key of the cipher that produced bs, aborting
// on the first verified candidate. The bitstream must hold at least 48
// bits. The returned key k satisfies NewFromKey(k).Emit(len(bs)) == bs.
func Recover(bs BitVector) (uint64, error) {
	keys, err := RecoverAll(bs, AttackOptions{FirstMatch: true})
	if err != nil {
		return 0, err
	}
	return keys[0], nil
}

// RecoverAll runs the split-state recovery pipeline and returns every key
// whose cipher reproduces bs bit for bit, in ascending order. With a
// 48-bit-or-longer stream exactly one key is expected.
//
// Workers move through Idle -> Enumerating -> Extending -> Emitting and
// finish in Done after their 2^15 seeds are exhausted; sixteen even
// pipelines fan out over bounded channels to sixteen odd pipelines each.
// Closing a channel is the upstream termination sentinel. The only shared
// mutable state is one atomic cancellation flag, polled between outer
// iterations.
func RecoverAll(bs BitVector, opts AttackOptions) ([]uint64, error) {
	if err := bs.Validate(); err != nil {
		return nil, err
	}
	if len(bs) < minBitstream {
		return nil, ErrTooShort
	}
	n := len(bs)

	deepK := opts.DeepStages
	if deepK <= 0 {
		deepK = defaultDeepStages
	}
	if deepK > maxDeepStages {
		deepK = maxDeepStages
	}
	if limit := (n - searchBits) / 2; deepK > limit {
		deepK = limit
	}

	// Search prefix split by parity. Bit 0 / bit 1 select the enumerator
	// outputs; the following four bits per parity drive the extension
	// stages against successive observed bits.
	searchEven := []uint8{bs[0], bs[2], bs[4], bs[6], bs[8]}
	searchOdd := []uint8{bs[1], bs[3], bs[5], bs[7], bs[9]}
	deepEven := make([]uint8, deepK)
	deepOdd := make([]uint8, deepK)
	for s := 0; s < deepK; s++ {
		deepEven[s] = bs[searchBits+2*s]
		deepOdd[s] = bs[searchBits+1+2*s]
	}
	// Index of the last bit consumed by extension; candidates assemble
	// into the register as of emitting it.
	vstart := searchBits - 1 + 2*deepK

	order := identityOrder()
	if opts.Order != nil {
		if o, ok := opts.Order.OrderFor(bs); ok {
			order = o
		}
	}

	// Odd candidate tables depend only on the odd enumerator index, so
	// the sixteen workers of one column share a single table, built on
	// first use.
	var tableOnce [oddPipelinesPerEven]sync.Once
	var tables [oddPipelinesPerEven][]oddEntry
	getTable := func(j int) []oddEntry {
		tableOnce[j].Do(func() {
			tables[j] = buildOddTable(uint8(j), searchOdd, deepOdd)
		})
		return tables[j]
	}

	var chans [evenPipelines][oddPipelinesPerEven]chan uint64
	for i := range chans {
		for j := range chans[i] {
			chans[i][j] = make(chan uint64, 128)
		}
	}

	var cancelled atomic.Bool
	results := make(chan uint64, 64)
	var evenWG, oddWG sync.WaitGroup

	for i := 0; i < evenPipelines; i++ {
		for j := 0; j < oddPipelinesPerEven; j++ {
			oddWG.Add(1)
			go func(in <-chan uint64, j int) {
				defer oddWG.Done()
				runOddPipeline(in, getTable(j), bs, vstart, &cancelled, opts.FirstMatch, results)
			}(chans[i][j], j)
		}
	}
	for i := 0; i < evenPipelines; i++ {
		evenWG.Add(1)
		go func(index uint8, out [oddPipelinesPerEven]chan uint64) {
			defer evenWG.Done()
			runEvenPipeline(index, searchEven, deepEven, out, &cancelled)
		}(order[i], chans[i])
	}

	go func() {
		oddWG.Wait()
		close(results)
	}()

	seen := make(map[uint64]bool)
	var keys []uint64
	for k := range results {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	evenWG.Wait()

	if len(keys) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	return keys, nil
}

func identityOrder() [16]uint8 {
	var o [16]uint8
	for i := range o {
		o[i] = uint8(i)
	}
	return o
}

// runEvenPipeline enumerates one even index, extends every subkey through
// the search and deep stages, and replicates each surviving candidate to
// all sixteen odd pipelines of its row. Channels are closed as the
// termination sentinel.
func runEvenPipeline(index uint8, search, deep []uint8, out [oddPipelinesPerEven]chan uint64, cancelled *atomic.Bool) {
	lut := halfFilterLUT()
	enum := NewSubkeyEnumerator(index, search[0])
	cur := make([]halfCandidate, 0, 32)
	next := make([]halfCandidate, 0, 32)
	for {
		if cancelled.Load() {
			break
		}
		v, ok := enum.Next()
		if !ok {
			break
		}
		cur = append(cur[:0], halfCandidate{win: v, low: rev20(v)})
		for s := 1; s < len(search) && len(cur) > 0; s++ {
			next = extendPlain(next[:0], cur, search[s], lut)
			cur, next = next, cur
		}
		for s := 0; s < len(deep) && len(cur) > 0; s++ {
			next = extendEvenDeep(next[:0], cur, deep[s], uint(2*s), lut)
			cur, next = next, cur
		}
		for _, hc := range cur {
			packed := uint64(hc.sig)<<24 | uint64(hc.low)
			for _, ch := range out {
				ch <- packed
			}
		}
	}
	for _, ch := range out {
		close(ch)
	}
}

// runOddPipeline joins incoming even candidates against its shared odd
// table and verifies every signature-consistent pair. After cancellation
// it keeps draining its queue so upstream senders never block.
func runOddPipeline(in <-chan uint64, table []oddEntry, bs BitVector, vstart int, cancelled *atomic.Bool, firstMatch bool, results chan<- uint64) {
	for packed := range in {
		if cancelled.Load() {
			continue
		}
		esig := uint32(packed >> 24)
		espread := spread24(uint32(packed)&0xFFFFFF) << 1
		lo := sort.Search(len(table), func(k int) bool { return table[k].sig >= esig })
		for k := lo; k < len(table) && table[k].sig == esig; k++ {
			// The odd half sits on the even register cells: it holds the
			// newest bit. The shifted even half on the odd cells is the
			// "rotate by one" of the naive interleave description.
			state := spread24(table[k].low) | espread
			key, ok := verifyCandidate(state, bs, vstart)
			if !ok {
				continue
			}
			results <- key
			if firstMatch {
				cancelled.Store(true)
			}
		}
	}
}

// buildOddTable runs the full enumeration and extension for one odd
// index and returns the surviving candidates sorted by signature.
func buildOddTable(index uint8, search, deep []uint8) []oddEntry {
	lut := halfFilterLUT()
	enum := NewSubkeyEnumerator(index, search[0])
	entries := make([]oddEntry, 0, subkeyCount)
	cur := make([]halfCandidate, 0, 32)
	next := make([]halfCandidate, 0, 32)
	for {
		v, ok := enum.Next()
		if !ok {
			break
		}
		cur = append(cur[:0], halfCandidate{win: v, low: rev20(v)})
		for s := 1; s < len(search) && len(cur) > 0; s++ {
			next = extendPlain(next[:0], cur, search[s], lut)
			cur, next = next, cur
		}
		for s := 0; s < len(deep) && len(cur) > 0; s++ {
			next = extendOddDeep(next[:0], cur, deep[s], uint(2*s), lut)
			cur, next = next, cur
		}
		for _, hc := range cur {
			entries = append(entries, oddEntry{sig: hc.sig, low: hc.low})
		}
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].sig < entries[b].sig })
	return entries
}

// extendPlain advances each candidate by one observed bit: both one-bit
// extensions are formed, the window slides (new cell at bit 19, oldest
// relevant cell drops) and only extensions whose filter output matches
// the observed bit survive.
func extendPlain(dst, src []halfCandidate, target uint8, lut []uint8) []halfCandidate {
	for _, hc := range src {
		for b := uint32(0); b < 2; b++ {
			w := b<<19 | hc.win>>1
			if lut[w] != target {
				continue
			}
			dst = append(dst, halfCandidate{win: w, low: hc.low<<1 | b, sig: hc.sig})
		}
	}
	return dst
}

// extendEvenDeep is extendPlain for an even-half deep stage, additionally
// recording the two signature bits that the guessed feedback bit must
// satisfy against the opposite half: the guess XOR this half's odd-cell
// contribution before the shift, and its even-cell contribution after.
func extendEvenDeep(dst, src []halfCandidate, target uint8, sigShift uint, lut []uint8) []halfCandidate {
	for _, hc := range src {
		prev := parity24(hc.low & lfContribOdd)
		for b := uint32(0); b < 2; b++ {
			w := b<<19 | hc.win>>1
			if lut[w] != target {
				continue
			}
			low := (hc.low<<1 | b) & 0xFFFFFF
			sig := hc.sig | (b^prev)<<sigShift | parity24(low&lfContribEven)<<(sigShift+1)
			dst = append(dst, halfCandidate{win: w, low: low, sig: sig})
		}
	}
	return dst
}

// extendOddDeep mirrors extendEvenDeep for the odd half, whose history
// alternates between the even and odd register cells one step out of
// phase with the even half.
func extendOddDeep(dst, src []halfCandidate, target uint8, sigShift uint, lut []uint8) []halfCandidate {
	for _, hc := range src {
		base := hc.sig | parity24(hc.low&lfContribEven)<<sigShift
		prev := parity24(hc.low & lfContribOdd)
		for b := uint32(0); b < 2; b++ {
			w := b<<19 | hc.win>>1
			if lut[w] != target {
				continue
			}
			low := (hc.low<<1 | b) & 0xFFFFFF
			dst = append(dst, halfCandidate{win: w, low: low, sig: base | (b^prev)<<(sigShift+1)})
		}
	}
	return dst
}

// verifyCandidate clocks an assembled register through the tail of the
// bitstream, rewinds to bit 0 and confirms the whole stream before
// reporting the recovered key. state is the register as of emitting
// bs[vstart].
func verifyCandidate(state uint64, bs BitVector, vstart int) (uint64, bool) {
	c := Cipher{state: state}
	n := len(bs)
	for i := vstart; i < n; i++ {
		if c.Step(0, ModePlain) != bs[i] {
			return 0, false
		}
	}
	for i := 0; i < n; i++ {
		c.StepReverse(0, false)
	}
	initial := c.state
	for i := 0; i < vstart; i++ {
		if c.Step(0, ModePlain) != bs[i] {
			return 0, false
		}
	}
	return permuteKey(initial), true
}

// halfFilterLUT memoises the 20-bit filter network; one megabyte buys the
// pipeline a table lookup per extension probe.
var (
	halfLUTOnce sync.Once
	halfLUT     []uint8
)

func halfFilterLUT() []uint8 {
	halfLUTOnce.Do(func() {
		halfLUT = make([]uint8, 1<<20)
		for v := range halfLUT {
			halfLUT[v] = filterHalf(uint32(v))
		}
	})
	return halfLUT
}

// rev20 converts a half-state from subkey order (newest cell at bit 19)
// to history order (newest cell at bit 0).
func rev20(v uint32) uint32 {
	return bits.Reverse32(v) >> 12
}

// spread24 interleaves zeros between the bits of a 24-bit value, mapping
// bit i to bit 2i.
func spread24(v uint32) uint64 {
	x := uint64(v)
	x = (x | x<<16) & 0x0000FFFF0000FFFF
	x = (x | x<<8) & 0x00FF00FF00FF00FF
	x = (x | x<<4) & 0x0F0F0F0F0F0F0F0F
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return x
}

func parity24(v uint32) uint32 {
	return uint32(bits.OnesCount32(v) & 1)
}
