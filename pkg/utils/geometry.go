package utils

import (
	"math"

	"candle-quiz/internal/models"
)

// Normalize rescales every o/h/l/c linearly so the sequence minimum maps to
// 0 and the maximum to 100. A zero span is treated as 1. Volume is kept.
func Normalize(bars []models.Bar) []models.Bar {
	if len(bars) == 0 {
		return nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, b := range bars {
		lo = math.Min(lo, math.Min(math.Min(b.O, b.C), math.Min(b.H, b.L)))
		hi = math.Max(hi, math.Max(math.Max(b.O, b.C), math.Max(b.H, b.L)))
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	scale := func(x float64) float64 {
		return (x - lo) / span * 100
	}

	out := make([]models.Bar, len(bars))
	for i, b := range bars {
		out[i] = models.Bar{
			O: scale(b.O),
			H: scale(b.H),
			L: scale(b.L),
			C: scale(b.C),
			V: b.V,
		}
	}
	return out
}

// ClampBar widens h and l so that l <= min(o,c) <= max(o,c) <= h.
func ClampBar(b models.Bar) models.Bar {
	b.H = math.Max(b.H, math.Max(b.O, b.C))
	b.L = math.Min(b.L, math.Min(b.O, b.C))
	return b
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	m := math.Pow(10, float64(places))
	return math.Round(v*m) / m
}
