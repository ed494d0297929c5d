package patterns

import (
	"math"
	"sort"

	"candle-quiz/internal/models"
)

// CandlestickDetector detects candlestick patterns on the final bars of a sequence.
type CandlestickDetector struct {
	// Configuration for pattern detection
	tolerance         float64 // slack applied to every threshold comparison
	dojiThreshold     float64 // Body size as fraction of range for doji
	shadowThreshold   float64 // Dominant shadow as multiple of body for hammer/shooting star
	minorShadowRatio  float64 // Opposite shadow as fraction of body
	nearExtremeRatio  float64 // Distance from close to the extreme as fraction of range
	engulfRatio       float64 // Second body as multiple of first for engulfing
	haramiRatio       float64 // Second body as fraction of first for harami
	starBigBodyRatio  float64 // Body fraction of range for the outer star candles
	starSmallBodyRate float64 // Body fraction of range for the middle star candle
}

// NewCandlestickDetector creates a new candlestick pattern detector.
func NewCandlestickDetector() *CandlestickDetector {
	return &CandlestickDetector{
		tolerance:         0.1,
		dojiThreshold:     0.1,
		shadowThreshold:   2.0,
		minorShadowRatio:  0.25,
		nearExtremeRatio:  0.25,
		engulfRatio:       1.1,
		haramiRatio:       0.6,
		starBigBodyRatio:  0.6,
		starSmallBodyRate: 0.25,
	}
}

func (d *CandlestickDetector) Name() string {
	return "CandlestickDetector"
}

var defaultDetector = NewCandlestickDetector()

// Detect runs the default detector.
func Detect(candles []models.Bar, ctx models.Context) []string {
	return defaultDetector.Detect(candles, ctx)
}

// Detect returns the sorted set of pattern names implied by the last two
// (and, when present, three) candles. Trend context disambiguates
// Hammer from Hanging Man.
func (d *CandlestickDetector) Detect(candles []models.Bar, ctx models.Context) []string {
	n := len(candles)
	if n < 2 {
		return nil
	}

	found := make(map[string]struct{})
	add := func(name string) { found[name] = struct{}{} }

	k1, k2 := candles[n-2], candles[n-1]
	m1, m2 := measure(k1), measure(k2)

	// Single-candle patterns on the last bar
	if d.le(m2.body, d.dojiThreshold*m2.rng) {
		add(Doji)
	}
	if d.isHammerShape(m2) {
		switch ctx.Trend {
		case models.TrendDown:
			add(Hammer)
		case models.TrendUp:
			add(HangingMan)
		}
	}
	if d.isShootingStarShape(m2) {
		add(ShootingStar)
	}

	// Two-candle patterns
	if m1.red && m2.green && d.ge(m2.body, d.engulfRatio*m1.body) && k2.O <= k1.C && k2.C >= k1.O {
		add(BullishEngulfing)
	}
	if m1.green && m2.red && d.ge(m2.body, d.engulfRatio*m1.body) && k2.O >= k1.C && k2.C <= k1.O {
		add(BearishEngulfing)
	}

	inside := func(x float64) bool {
		return math.Min(k1.O, k1.C) <= x && x <= math.Max(k1.O, k1.C)
	}
	if d.le(m2.body, d.haramiRatio*m1.body) && inside(k2.O) && inside(k2.C) {
		if m1.red && m2.green {
			add(BullishHarami)
		}
		if m1.green && m2.red {
			add(BearishHarami)
		}
	}

	mid1 := (k1.O + k1.C) / 2
	if m1.red && k2.O < k1.L && k2.C > mid1 && k2.C < k1.O {
		add(PiercingLine)
	}
	if m1.green && k2.O > k1.H && k2.C < mid1 && k2.C > k1.O {
		add(DarkCloudCover)
	}

	// Three-candle patterns
	if n >= 3 {
		a, b, c := candles[n-3], k1, k2
		ma, mb, mc := measure(a), m1, m2
		big := func(m metrics) bool { return d.ge(m.body, d.starBigBodyRatio*m.rng) }
		small := func(m metrics) bool { return d.le(m.body, d.starSmallBodyRate*m.rng) }
		aMid := (a.O + a.C) / 2

		if ma.red && big(ma) && small(mb) && b.O < math.Min(a.C, a.L) && mc.green && big(mc) && c.C >= aMid {
			add(MorningStar)
		}
		if ma.green && big(ma) && small(mb) && b.O > math.Max(a.C, a.H) && mc.red && big(mc) && c.C <= aMid {
			add(EveningStar)
		}
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DirectionOf aggregates pattern polarities. Mixed or absent signals are
// neutral; there is no majority vote.
func DirectionOf(names []string) models.Label {
	var bull, bear bool
	for _, name := range names {
		switch PolarityOf(name) {
		case models.LabelBullish:
			bull = true
		case models.LabelBearish:
			bear = true
		}
	}
	switch {
	case bull && !bear:
		return models.LabelBullish
	case bear && !bull:
		return models.LabelBearish
	default:
		return models.LabelNeutral
	}
}

// Helper functions for candle analysis
type metrics struct {
	body  float64
	rng   float64
	upper float64
	lower float64
	green bool
	red   bool
}

func measure(k models.Bar) metrics {
	return metrics{
		body:  math.Abs(k.C - k.O),
		rng:   math.Max(1e-6, k.H-k.L),
		upper: k.H - math.Max(k.O, k.C),
		lower: math.Min(k.O, k.C) - k.L,
		green: k.C >= k.O,
		red:   k.C < k.O,
	}
}

// ge accepts a >= b within tolerance.
func (d *CandlestickDetector) ge(a, b float64) bool {
	return a >= b*(1-d.tolerance)
}

// le accepts a <= b within tolerance.
func (d *CandlestickDetector) le(a, b float64) bool {
	return a <= b*(1+d.tolerance)
}

// isHammerShape: long lower shadow, tiny upper shadow, body near the top.
func (d *CandlestickDetector) isHammerShape(m metrics) bool {
	return d.ge(m.lower, d.shadowThreshold*m.body) &&
		d.le(m.upper, d.minorShadowRatio*m.body) &&
		d.le(m.upper, d.nearExtremeRatio*m.rng)
}

// isShootingStarShape mirrors the hammer with the upper shadow dominant.
func (d *CandlestickDetector) isShootingStarShape(m metrics) bool {
	return d.ge(m.upper, d.shadowThreshold*m.body) &&
		d.le(m.lower, d.minorShadowRatio*m.body) &&
		d.le(m.lower, d.nearExtremeRatio*m.rng)
}
