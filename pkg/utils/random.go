package utils

// Stream is a deterministic source of floats in [0,1).
type Stream func() float64

// SeededStream returns a linear congruential generator seeded with seed.
// Identical seeds produce identical sequences.
func SeededStream(seed uint32) Stream {
	s := seed
	return func() float64 {
		s = 1664525*s + 1013904223
		return float64(s) / 4294967296.0
	}
}

// Hash returns the djb2 hash of s.
func Hash(s string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}

// IntN draws an int in [0,n) from r. n must be positive.
func (r Stream) IntN(n int) int {
	i := int(r() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Between draws a float in [lo,hi) from r.
func (r Stream) Between(lo, hi float64) float64 {
	return lo + (hi-lo)*r()
}

// Chance reports true with probability p.
func (r Stream) Chance(p float64) bool {
	return r() < p
}

// Shuffle permutes n elements in place using swap, Fisher-Yates style.
func (r Stream) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		swap(i, j)
	}
}
