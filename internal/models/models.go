// Package models provides domain models for the quiz item engine.
package models

// Label is the ground-truth direction of a quiz item.
type Label string

const (
	LabelBullish Label = "bullish"
	LabelBearish Label = "bearish"
	LabelNeutral Label = "neutral"
)

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	switch l {
	case LabelBullish, LabelBearish, LabelNeutral:
		return true
	}
	return false
}

// Directional reports whether l is bullish or bearish.
func (l Label) Directional() bool {
	return l == LabelBullish || l == LabelBearish
}

// Difficulty selects the pattern pool.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ParseDifficulty maps a free-form difficulty name to a Difficulty.
// Unknown values fall back to Medium.
func ParseDifficulty(s string) Difficulty {
	switch s {
	case "Easy", "easy", "EASY":
		return DifficultyEasy
	case "Hard", "hard", "HARD":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// Trend is the prevailing direction before the pattern.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendSide Trend = "side"
)

// Volatility is the descriptive volume/volatility regime.
type Volatility string

const (
	VolLow  Volatility = "low"
	VolMed  Volatility = "med"
	VolHigh Volatility = "high"
)

// Source records where an item came from.
type Source string

const (
	SourceLocal    Source = "local"
	SourceExternal Source = "external"
)

// Bar is one OHLC candle normalized to [0,100]. V is optional volume.
type Bar struct {
	O float64  `json:"o"`
	H float64  `json:"h"`
	L float64  `json:"l"`
	C float64  `json:"c"`
	V *float64 `json:"v,omitempty"`
}

// Body returns the absolute open/close distance.
func (b Bar) Body() float64 {
	if b.C > b.O {
		return b.C - b.O
	}
	return b.O - b.C
}

// Range returns high minus low.
func (b Bar) Range() float64 {
	return b.H - b.L
}

// Context is descriptive metadata attached to an item.
type Context struct {
	Trend Trend      `json:"trend"`
	Vol   Volatility `json:"vol"`
	Gap   bool       `json:"gap"`
}

// DefaultContext is used when an item arrives without a usable context.
func DefaultContext() Context {
	return Context{Trend: TrendSide, Vol: VolMed, Gap: false}
}

// Valid reports enum membership of trend and vol.
func (c Context) Valid() bool {
	switch c.Trend {
	case TrendUp, TrendDown, TrendSide:
	default:
		return false
	}
	switch c.Vol {
	case VolLow, VolMed, VolHigh:
		return true
	}
	return false
}

// Item is one quiz question.
type Item struct {
	ID          string   `json:"id"`
	Horizon     int      `json:"horizon"`
	Context     Context  `json:"context"`
	Candles     []Bar    `json:"candles"`
	PatternHint string   `json:"pattern_hint"`
	Label       Label    `json:"label"`
	Rationale   []string `json:"rationale"`
	Seed        int64    `json:"seed"`
	Source      Source   `json:"source"`
	Ambiguous   bool     `json:"ambiguous"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	out.Candles = make([]Bar, len(it.Candles))
	for i, b := range it.Candles {
		out.Candles[i] = b
		if b.V != nil {
			v := *b.V
			out.Candles[i].V = &v
		}
	}
	out.Rationale = append([]string(nil), it.Rationale...)
	return out
}

// Candle count and horizon bounds.
const (
	MinCandles = 2
	MaxCandles = 5
)

// ClampCandles clamps a requested candle count to [MinCandles, MaxCandles].
func ClampCandles(n int) int {
	return max(MinCandles, min(MaxCandles, n))
}

// ClampHorizon maps any horizon to 1 or 3.
func ClampHorizon(h int) int {
	if h == 1 {
		return 1
	}
	return 3
}
