package agents

import (
	"fmt"
	"strings"

	"candle-quiz/internal/models"
)

// MaxBatch is the most items a batch response may contribute.
const MaxBatch = 20

// Params describes what the generator should produce.
type Params struct {
	Bars       int
	Horizon    int
	Difficulty models.Difficulty
	Avoid      []string
	Count      int // batch size; ignored for single requests
}

const systemPrompt = `You generate strict JSON (no prose) for 2-5 OHLC candlesticks normalized to 0-100, depicting a clear textbook candlestick setup. Include a context summary, a concise teaching rationale (2-4 bullets), and the intended label (bullish, bearish, or neutral).

Each item uses only these keys: id, context:{trend, vol, gap}, candles:[{o,h,l,c}], pattern_hint, label, rationale, seed.
trend is one of up, down, side. vol is one of low, med, high. gap is a boolean.
Candles must use o/h/l/c keys only (not open/high/low/close). Every candle needs l <= min(o,c) and h >= max(o,c).
No extra fields, no dates, no timestamps, no prose, no markdown, no code fences.`

// SinglePrompt builds the system and user prompts for one item.
func SinglePrompt(p Params) (string, string) {
	var b strings.Builder
	b.WriteString("Output a single JSON OBJECT (not an array).\n")
	writeParams(&b, p)
	return systemPrompt, b.String()
}

// BatchPrompt builds the system and user prompts for a batch of items.
func BatchPrompt(p Params) (string, string) {
	n := p.Count
	if n <= 0 || n > MaxBatch {
		n = MaxBatch
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Output a JSON ARRAY of %d distinct items. Vary the pattern, context and geometry across items.\n", n)
	writeParams(&b, p)
	return systemPrompt, b.String()
}

func writeParams(b *strings.Builder, p Params) {
	avoid := "None"
	if len(p.Avoid) > 0 {
		avoid = strings.Join(p.Avoid, ", ")
	}
	fmt.Fprintf(b, "Bars: %d\n", p.Bars)
	fmt.Fprintf(b, "Horizon: %d\n", p.Horizon)
	fmt.Fprintf(b, "Difficulty: %s\n", p.Difficulty)
	fmt.Fprintf(b, "Target distribution: avoid repeating recent patterns; avoid: %s\n", avoid)
	b.WriteString("Enforce geometry rules and believable ratios; include pattern_hint when applicable; include seed.")
}
