package session

import (
	"fmt"

	"candle-quiz/pkg/utils"
)

// VariantKey names one (pattern, variant) pair.
func VariantKey(pattern string, variant int) string {
	return fmt.Sprintf("%s#%d", pattern, variant)
}

// nextVariant picks the next unused (pattern, variant) for pool, marking
// it used. The cursors are walked for len(pool)*variants attempts; a
// walk that only finds used pairs falls back to a scan in pool order,
// so false means every pair has been used.
func (s *State) nextVariant(scope string, pool []string, variants int) (string, int, bool) {
	if len(pool) == 0 || variants <= 0 {
		return "", 0, false
	}
	limit := len(pool) * variants
	for attempt := 0; attempt < limit; attempt++ {
		pattern := pool[s.advance(s.PatternCursors, scope, len(pool))]
		variant := s.advance(s.VariantCursors, pattern, variants)
		key := VariantKey(pattern, variant)
		if s.isUsed(key) {
			continue
		}
		s.markUsed(key)
		return pattern, variant, true
	}

	for _, pattern := range pool {
		for variant := 0; variant < variants; variant++ {
			if key := VariantKey(pattern, variant); !s.isUsed(key) {
				s.markUsed(key)
				return pattern, variant, true
			}
		}
	}
	return "", 0, false
}

// advance returns the next index from the named cursor over [0, n).
func (s *State) advance(cursors map[string]*Cursor, name string, n int) int {
	c, ok := cursors[name]
	if !ok || len(c.Order) != n {
		c = &Cursor{}
		cursors[name] = c
		c.Order = s.shuffled(name, c.Round, n)
	}
	if c.Pos >= len(c.Order) {
		c.Round++
		c.Pos = 0
		c.Order = s.shuffled(name, c.Round, n)
	}
	idx := c.Order[c.Pos]
	c.Pos++
	return idx
}

func (s *State) shuffled(name string, round, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	r := utils.SeededStream(utils.Hash(fmt.Sprintf("%s|%s|round=%d", s.Hash, name, round)))
	r.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}
