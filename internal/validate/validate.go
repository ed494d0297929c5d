// Package validate enforces item schema and candle geometry, repairs
// out-of-range scale and softens low-confidence labels.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"candle-quiz/internal/analysis/patterns"
	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/models"
	"candle-quiz/pkg/utils"
)

const (
	rangeEpsilon   = 0.001
	dojiBodyRatio  = 0.10
	maxRationale   = 4
	minRationale   = 2
	idPrefixRemote = "ai-"
)

// Reasons an item was marked ambiguous.
const (
	ReasonDojiLike = "doji-like"
	ReasonDetector = "detector-disagreement"
)

// shadowPatterns have small bodies by construction, so a small final
// body is not a sign of indecision for them.
var shadowPatterns = map[string]bool{
	patterns.Doji:         true,
	patterns.Hammer:       true,
	patterns.HangingMan:   true,
	patterns.ShootingStar: true,
}

// Report describes the recoveries applied to an accepted item.
type Report struct {
	Renormalized    bool
	Ambiguous       bool
	AmbiguityReason string
	DroppedFields   []string
	Detected        []string
	DetectedLabel   models.Label
}

// Validator checks and repairs items.
type Validator struct {
	detector *patterns.CandlestickDetector
	logger   zerolog.Logger
}

// New creates a new Validator.
func New(logger zerolog.Logger) *Validator {
	return &Validator{
		detector: patterns.NewCandlestickDetector(),
		logger:   logger.With().Str("component", "validator").Logger(),
	}
}

var defaultValidator = New(zerolog.Nop())

// Validate runs the package default validator.
func Validate(raw models.RawCandidate, settings models.Settings) (models.Item, error) {
	return defaultValidator.Validate(raw, settings)
}

// Validate returns the accepted item or a SchemaError/GeometryError.
func (v *Validator) Validate(raw models.RawCandidate, settings models.Settings) (models.Item, error) {
	item, _, err := v.ValidateWithReport(raw, settings)
	return item, err
}

// ValidateWithReport is Validate plus a description of what was repaired.
func (v *Validator) ValidateWithReport(raw models.RawCandidate, settings models.Settings) (models.Item, Report, error) {
	var report Report

	// 1. Backfill id and context
	id := ""
	if raw.ID != nil {
		id = strings.TrimSpace(*raw.ID)
	}
	if id == "" {
		id = backfillID(raw)
	}
	ctx := models.DefaultContext()
	if raw.Context != nil && raw.Context.Valid() {
		ctx = *raw.Context
	}

	// 2. Required fields
	if raw.Candles == nil {
		return models.Item{}, report, qerrors.MissingField("candles")
	}
	if raw.Label == nil {
		return models.Item{}, report, qerrors.MissingField("label")
	}
	if raw.Rationale == nil {
		return models.Item{}, report, qerrors.MissingField("rationale")
	}
	label := models.Label(strings.ToLower(strings.TrimSpace(*raw.Label)))
	if !label.Valid() {
		return models.Item{}, report, qerrors.BadEnum("label")
	}

	// 3. Unknown top-level fields are dropped
	for k := range raw.Extra {
		report.DroppedFields = append(report.DroppedFields, k)
	}
	sort.Strings(report.DroppedFields)

	// 4. Candle count
	if n := len(raw.Candles); n < models.MinCandles || n > models.MaxCandles {
		return models.Item{}, report, qerrors.BadCandleCount(n)
	}

	// 5. Types and geometry
	bars := make([]models.Bar, len(raw.Candles))
	for i, rb := range raw.Candles {
		bar, err := toBar(rb, i)
		if err != nil {
			return models.Item{}, report, err
		}
		if err := checkGeometry(bar, i); err != nil {
			return models.Item{}, report, err
		}
		bars[i] = bar
	}

	// 6. Scale repair
	if outOfRange(bars) {
		bars = utils.Normalize(bars)
		report.Renormalized = true
	}

	item := models.Item{
		ID:          id,
		Horizon:     settings.Horizon,
		Context:     ctx,
		Candles:     bars,
		PatternHint: deref(raw.PatternHint),
		Label:       label,
		Rationale:   fitRationale(raw.Rationale, ctx),
		Source:      raw.Source,
		Ambiguous:   raw.Ambiguous,
	}
	if raw.Horizon != nil {
		item.Horizon = *raw.Horizon
	}
	item.Horizon = models.ClampHorizon(item.Horizon)
	if raw.Seed != nil {
		item.Seed = *raw.Seed
	}
	if item.Source == "" {
		item.Source = models.SourceExternal
	}

	// 7. Doji-like final bar with a directional label
	if isDojiLike(bars[len(bars)-1]) && !shadowPatterns[item.PatternHint] && item.Label.Directional() {
		item.Label = models.LabelNeutral
		item.Ambiguous = true
		report.AmbiguityReason = ReasonDojiLike
	}

	// 8. Detector cross-check; detector silence never overrides
	report.Detected = v.detector.Detect(bars, ctx)
	report.DetectedLabel = patterns.DirectionOf(report.Detected)
	if report.DetectedLabel != models.LabelNeutral && item.Label != models.LabelNeutral && report.DetectedLabel != item.Label {
		item.Label = models.LabelNeutral
		item.Ambiguous = true
		report.AmbiguityReason = ReasonDetector
	}
	report.Ambiguous = item.Ambiguous

	if report.Renormalized || report.AmbiguityReason != "" || len(report.DroppedFields) > 0 {
		v.logger.Debug().
			Str("id", item.ID).
			Str("pattern", item.PatternHint).
			Bool("renormalized", report.Renormalized).
			Str("ambiguity", report.AmbiguityReason).
			Strs("dropped", report.DroppedFields).
			Msg("Item repaired")
	}

	return item, report, nil
}

func toBar(rb models.RawBar, index int) (models.Bar, error) {
	var bar models.Bar
	fields := []struct {
		name string
		raw  any
		dst  *float64
	}{
		{"o", rb.O, &bar.O},
		{"h", rb.H, &bar.H},
		{"l", rb.L, &bar.L},
		{"c", rb.C, &bar.C},
	}
	for _, f := range fields {
		x, ok := number(f.raw)
		if !ok {
			return models.Bar{}, qerrors.BadFieldType(f.name, index)
		}
		*f.dst = x
	}
	if rb.V != nil {
		x, ok := number(rb.V)
		if !ok {
			return models.Bar{}, qerrors.BadFieldType("v", index)
		}
		bar.V = &x
	}
	return bar, nil
}

func checkGeometry(b models.Bar, index int) error {
	switch {
	case b.L > math.Min(b.O, b.C):
		return qerrors.NewGeometryError(qerrors.CodeGeomLow, index, b.O, b.H, b.L, b.C)
	case b.H < math.Max(b.O, b.C):
		return qerrors.NewGeometryError(qerrors.CodeGeomHigh, index, b.O, b.H, b.L, b.C)
	case b.H < b.L:
		return qerrors.NewGeometryError(qerrors.CodeGeomRange, index, b.O, b.H, b.L, b.C)
	}
	return nil
}

func outOfRange(bars []models.Bar) bool {
	for _, b := range bars {
		for _, x := range []float64{b.O, b.H, b.L, b.C} {
			if x < -rangeEpsilon || x > 100+rangeEpsilon {
				return true
			}
		}
	}
	return false
}

func isDojiLike(b models.Bar) bool {
	rng := math.Max(1e-6, b.Range())
	return b.Body() <= dojiBodyRatio*rng
}

// fitRationale trims blank lines, keeps at most four and pads to two.
func fitRationale(lines []string, ctx models.Context) []string {
	out := make([]string, 0, maxRationale)
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
		if len(out) == maxRationale {
			break
		}
	}
	fillers := []string{
		fmt.Sprintf("Context %s with %s volume", ctx.Trend, ctx.Vol),
		"Bars normalized to 0–100",
	}
	for i := 0; len(out) < minRationale; i++ {
		out = append(out, fillers[i])
	}
	return out
}

func backfillID(raw models.RawCandidate) string {
	if raw.Seed != nil {
		return fmt.Sprintf("%s%d", idPrefixRemote, *raw.Seed)
	}
	var sb strings.Builder
	for _, rb := range raw.Candles {
		fmt.Fprintf(&sb, "%v,%v,%v,%v;", rb.O, rb.H, rb.L, rb.C)
	}
	return fmt.Sprintf("%s%08x", idPrefixRemote, utils.Hash(sb.String()))
}

func number(v any) (float64, bool) {
	var x float64
	switch n := v.(type) {
	case float64:
		x = n
	case float32:
		x = float64(n)
	case int:
		x = float64(n)
	case int64:
		x = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		x = f
	default:
		return 0, false
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
