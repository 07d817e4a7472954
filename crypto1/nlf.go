package crypto1

// FilterTable is a Boolean function of width input bits, specified by a
// truth-table bitmask: the value on input v is bit v of the mask.
type FilterTable struct {
	mask  uint64
	width uint
}

// The three nonlinear filters of Crypto-1. FA and FB combine four register
// taps each in the first layer; FC combines the five first-layer outputs
// into the keystream bit.
var (
	FA = FilterTable{mask: 0x9E98, width: 4}
	FB = FilterTable{mask: 0xB48E, width: 4}
	FC = FilterTable{mask: 0xEC57E80A, width: 5}
)

// Width returns the declared input width in bits.
func (t FilterTable) Width() uint {
	return t.width
}

// Eval returns the function value on v. Passing a value outside the
// declared width is a programming error.
func (t FilterTable) Eval(v uint32) uint8 {
	if v >= 1<<t.width {
		panic("crypto1: filter input wider than table")
	}
	return uint8(t.mask>>v) & 1
}

// Preimages returns, in ascending order, every input that evaluates to y.
// FA and FB have 8 preimages per output value, FC has 16.
func (t FilterTable) Preimages(y uint8) []uint32 {
	if y > 1 {
		panic("crypto1: filter output outside {0,1}")
	}
	pre := make([]uint32, 0, 1<<(t.width-1))
	for v := uint32(0); v < 1<<t.width; v++ {
		if t.Eval(v) == y {
			pre = append(pre, v)
		}
	}
	return pre
}

// layer1 evaluates the five first-layer filters on the even register cells
// of a full state. Tap blocks are, left to right, FA(0,2,4,6), FB(8..14),
// FA(16..22), FA(24..30), FB(32..38); the leftmost block is the MSB of the
// returned 5-bit vector.
func layer1(s uint64) uint32 {
	a := FA.Eval(evenTaps4(s, 0))
	b := FB.Eval(evenTaps4(s, 8))
	c := FA.Eval(evenTaps4(s, 16))
	d := FA.Eval(evenTaps4(s, 24))
	e := FB.Eval(evenTaps4(s, 32))
	return uint32(a)<<4 | uint32(b)<<3 | uint32(c)<<2 | uint32(d)<<1 | uint32(e)
}

// evenTaps4 gathers cells base, base+2, base+4, base+6 with the lowest
// cell as the MSB of the 4-bit result.
func evenTaps4(s uint64, base uint) uint32 {
	return uint32(s>>base&1)<<3 |
		uint32(s>>(base+2)&1)<<2 |
		uint32(s>>(base+4)&1)<<1 |
		uint32(s>>(base+6)&1)
}

// filterHalf evaluates the filter network on a 20-bit half-state laid out
// in subkey order: the newest cell is bit 19 and each 4-bit group feeds
// one first-layer filter (FA, FB, FA, FA, FB from MSB to LSB).
func filterHalf(v uint32) uint8 {
	a := FA.Eval(v >> 16 & 0xF)
	b := FB.Eval(v >> 12 & 0xF)
	c := FA.Eval(v >> 8 & 0xF)
	d := FA.Eval(v >> 4 & 0xF)
	e := FB.Eval(v & 0xF)
	return FC.Eval(uint32(a)<<4 | uint32(b)<<3 | uint32(c)<<2 | uint32(d)<<1 | uint32(e))
}
