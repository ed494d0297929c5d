// Package synth builds synthetic candlestick quiz items that realize a
// requested textbook pattern.
//
// Bars are laid out as noise filler first, then trend context, then the
// pattern bars. The pattern always closes the sequence so the requested
// candle count is exact and the detector, which reads the last bars,
// sees the pattern.
package synth

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"candle-quiz/internal/analysis/patterns"
	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/models"
	"candle-quiz/pkg/utils"
)

// DefaultVariants is the number of deterministic variants per pattern.
const DefaultVariants = 50

var (
	trends = []models.Trend{models.TrendUp, models.TrendDown, models.TrendSide}
	vols   = []models.Volatility{models.VolLow, models.VolMed, models.VolHigh}
)

// Generator creates quiz items locally.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	variants int
}

// NewGenerator creates a generator with the given variant space size.
// A non-positive variants value selects DefaultVariants.
func NewGenerator(variants int) *Generator {
	return NewGeneratorWithSource(variants, rand.NewSource(time.Now().UnixNano()))
}

// NewGeneratorWithSource creates a generator whose free randomness comes from src.
func NewGeneratorWithSource(variants int, src rand.Source) *Generator {
	if variants <= 0 {
		variants = DefaultVariants
	}
	return &Generator{rng: rand.New(src), variants: variants}
}

// Variants returns the size of the per-pattern variant space.
func (g *Generator) Variants() int {
	return g.variants
}

// Random picks a pattern uniformly from the difficulty pool and builds
// an item from a fresh seed.
func (g *Generator) Random(bars, horizon int, difficulty models.Difficulty) models.Item {
	bars = models.ClampCandles(bars)
	pool := patterns.PoolFor(difficulty, bars)

	g.mu.Lock()
	pattern := pool[g.rng.Intn(len(pool))]
	seed := g.rng.Uint32()
	g.mu.Unlock()

	item := build(pattern, seed, bars, models.ClampHorizon(horizon))
	item.ID = fmt.Sprintf("local-%d", seed)
	return item
}

// ForVariant builds the reproducible item for (pattern, variant). The
// same key and constraints always yield the same candles and label.
// bars is raised to the pattern's own length when it is shorter.
func (g *Generator) ForVariant(bars, horizon int, difficulty models.Difficulty, pattern string, variant int) (models.Item, error) {
	def, ok := patterns.Lookup(pattern)
	if !ok {
		return models.Item{}, qerrors.Wrapf(qerrors.ErrUnknownPattern, "pattern %q", pattern)
	}
	if variant < 0 || variant >= g.variants {
		return models.Item{}, fmt.Errorf("variant %d outside [0,%d)", variant, g.variants)
	}

	bars = models.ClampCandles(max(bars, def.Bars))
	horizon = models.ClampHorizon(horizon)
	seed := VariantSeed(pattern, variant, bars, horizon, difficulty)

	item := build(pattern, seed, bars, horizon)
	item.ID = fmt.Sprintf("local-%s-v%02d-%d", slug(pattern), variant, seed)
	return item, nil
}

// VariantSeed derives the seed for a variant key.
func VariantSeed(pattern string, variant, bars, horizon int, difficulty models.Difficulty) uint32 {
	key := fmt.Sprintf("%s|v=%d|bars=%d|horizon=%d|difficulty=%s", pattern, variant, bars, horizon, difficulty)
	return utils.Hash(key)
}

// build constructs, clamps and normalizes the item for pattern and seed.
func build(pattern string, seed uint32, bars, horizon int) models.Item {
	def, _ := patterns.Lookup(pattern)
	r := utils.SeededStream(seed)

	ctx := models.Context{
		Trend: trends[r.IntN(len(trends))],
		Vol:   vols[r.IntN(len(vols))],
		Gap:   r.Chance(0.3),
	}

	raw := buildBars(def, bars, ctx, r)
	assignVolume(raw, def.Bars, ctx.Vol, r)

	return models.Item{
		Horizon:     horizon,
		Context:     ctx,
		Candles:     utils.Normalize(raw),
		PatternHint: pattern,
		Label:       patterns.PolarityOf(pattern),
		Rationale:   rationale(pattern, ctx, horizon, r),
		Seed:        int64(seed),
		Source:      models.SourceLocal,
	}
}

// assignVolume gives every bar a volume scaled by the vol regime, with
// the pattern bars heavier than the lead-in.
func assignVolume(bars []models.Bar, patternBars int, vol models.Volatility, r utils.Stream) {
	base := 60.0
	switch vol {
	case models.VolLow:
		base = 30
	case models.VolHigh:
		base = 90
	}
	for i := range bars {
		v := base * r.Between(0.7, 1.3)
		if i >= len(bars)-patternBars {
			v *= 1.3
		}
		v = utils.RoundTo(v, 1)
		bars[i].V = &v
	}
}

func rationale(pattern string, ctx models.Context, horizon int, r utils.Stream) []string {
	lines := []string{
		fmt.Sprintf("Context %s with %s volume", ctx.Trend, ctx.Vol),
		fmt.Sprintf("Ratios align with %s", pattern),
		"Bars normalized to 0–100",
		fmt.Sprintf("Judge the next %d bar(s)", horizon),
	}
	return lines[:2+r.IntN(3)]
}

func slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}
