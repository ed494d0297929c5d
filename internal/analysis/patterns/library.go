// Package patterns provides the candlestick pattern library and a
// heuristic detector that re-derives direction from raw OHLC geometry.
package patterns

import (
	"candle-quiz/internal/models"
)

// Pattern names.
const (
	BullishEngulfing = "Bullish Engulfing"
	BearishEngulfing = "Bearish Engulfing"
	BullishHarami    = "Bullish Harami"
	BearishHarami    = "Bearish Harami"
	PiercingLine     = "Piercing Line"
	DarkCloudCover   = "Dark Cloud Cover"
	MorningStar      = "Morning Star"
	EveningStar      = "Evening Star"
	Doji             = "Doji"
	Hammer           = "Hammer"
	HangingMan       = "Hanging Man"
	ShootingStar     = "Shooting Star"
)

// Definition is an immutable pattern library entry.
type Definition struct {
	Name     string
	Tier     models.Difficulty
	Polarity models.Label
	Bars     int // candles needed to draw the pattern
}

var library = []Definition{
	{BullishEngulfing, models.DifficultyEasy, models.LabelBullish, 2},
	{BearishEngulfing, models.DifficultyEasy, models.LabelBearish, 2},
	{BullishHarami, models.DifficultyEasy, models.LabelBullish, 2},
	{BearishHarami, models.DifficultyEasy, models.LabelBearish, 2},
	{PiercingLine, models.DifficultyEasy, models.LabelBullish, 2},
	{DarkCloudCover, models.DifficultyEasy, models.LabelBearish, 2},
	{MorningStar, models.DifficultyMedium, models.LabelBullish, 3},
	{EveningStar, models.DifficultyMedium, models.LabelBearish, 3},
	{Doji, models.DifficultyMedium, models.LabelNeutral, 2},
	{Hammer, models.DifficultyHard, models.LabelBullish, 2},
	{HangingMan, models.DifficultyHard, models.LabelBearish, 2},
	{ShootingStar, models.DifficultyHard, models.LabelBearish, 2},
}

var byName = func() map[string]Definition {
	m := make(map[string]Definition, len(library))
	for _, d := range library {
		m[d.Name] = d
	}
	return m
}()

// All returns every definition in library order.
func All() []Definition {
	return append([]Definition(nil), library...)
}

// Lookup finds a definition by exact name.
func Lookup(name string) (Definition, bool) {
	d, ok := byName[name]
	return d, ok
}

// Pool returns the pattern names allowed at a difficulty. Tiers are
// additive: Medium includes Easy, Hard includes everything.
func Pool(d models.Difficulty) []string {
	var names []string
	for _, def := range library {
		if tierRank(def.Tier) <= tierRank(d) {
			names = append(names, def.Name)
		}
	}
	return names
}

// PoolFor narrows Pool(d) to patterns that fit in bars candles. When
// none fit the full pool is returned.
func PoolFor(d models.Difficulty, bars int) []string {
	var names []string
	for _, name := range Pool(d) {
		if byName[name].Bars <= bars {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return Pool(d)
	}
	return names
}

// PolarityOf returns the canonical direction of a pattern name; unknown
// names are neutral.
func PolarityOf(name string) models.Label {
	if d, ok := byName[name]; ok {
		return d.Polarity
	}
	return models.LabelNeutral
}

func tierRank(d models.Difficulty) int {
	switch d {
	case models.DifficultyEasy:
		return 0
	case models.DifficultyHard:
		return 2
	default:
		return 1
	}
}
