package loader

// LFSR is the 8-bit shift register the P1 boot ROM uses as a rolling
// challenge. Both sides seed it with 'P' and must stay in step.
type LFSR struct {
	state uint8
}

// NewLFSR returns a register seeded with seed.
func NewLFSR(seed byte) *LFSR {
	return &LFSR{state: seed}
}

// Next returns the current low bit and advances the register. The new low bit
// is the XOR of bits 7, 5, 4 and 1.
func (l *LFSR) Next() byte {
	s := l.state
	bit := s & 1
	l.state = s<<1 | (s>>7^s>>5^s>>4^s>>1)&1
	return bit
}
