package validate

import (
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"candle-quiz/internal/analysis/patterns"
	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/models"
	"candle-quiz/internal/synth"
)

var easy3 = models.Settings{Difficulty: models.DifficultyEasy, Candles: 3, Horizon: 1}

func strp(s string) *string { return &s }

func rawBar(o, h, l, c any) models.RawBar {
	return models.RawBar{O: o, H: h, L: l, C: c}
}

// candidate is a well-formed bullish engulfing item in raw form.
func candidate() models.RawCandidate {
	return models.RawCandidate{
		ID:          strp("ai-1"),
		Context:     &models.Context{Trend: models.TrendDown, Vol: models.VolMed},
		PatternHint: strp(patterns.BullishEngulfing),
		Label:       strp("bullish"),
		Rationale:   []string{"Second body engulfs the first", "Buyers took control"},
		Candles: []models.RawBar{
			rawBar(50.0, 51.0, 44.0, 45.0),
			rawBar(44.0, 53.0, 43.0, 52.0),
		},
	}
}

func codeOf(err error) string {
	var schema *qerrors.SchemaError
	if qerrors.As(err, &schema) {
		return schema.Code
	}
	var geom *qerrors.GeometryError
	if qerrors.As(err, &geom) {
		return geom.Code
	}
	return ""
}

func TestValidateAcceptsWellFormedCandidate(t *testing.T) {
	v := New(zerolog.Nop())
	it, report, err := v.ValidateWithReport(candidate(), easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if it.Label != models.LabelBullish || it.Ambiguous {
		t.Errorf("label = %s ambiguous = %v, want bullish and clear", it.Label, it.Ambiguous)
	}
	if it.Source != models.SourceExternal {
		t.Errorf("source = %s, want external", it.Source)
	}
	if it.Horizon != 1 {
		t.Errorf("horizon = %d, want the settings horizon 1", it.Horizon)
	}
	if report.Renormalized || report.AmbiguityReason != "" {
		t.Errorf("unexpected repairs: %+v", report)
	}
	if !reflect.DeepEqual(report.Detected, []string{patterns.BullishEngulfing}) {
		t.Errorf("detected = %v", report.Detected)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(rc *models.RawCandidate)
		code   string
	}{
		{"missing candles", func(rc *models.RawCandidate) { rc.Candles = nil }, qerrors.CodeMissingField},
		{"missing label", func(rc *models.RawCandidate) { rc.Label = nil }, qerrors.CodeMissingField},
		{"missing rationale", func(rc *models.RawCandidate) { rc.Rationale = nil }, qerrors.CodeMissingField},
		{"unknown label", func(rc *models.RawCandidate) { rc.Label = strp("up") }, qerrors.CodeBadEnum},
		{"one candle", func(rc *models.RawCandidate) { rc.Candles = rc.Candles[:1] }, qerrors.CodeBadCandleCount},
		{"six candles", func(rc *models.RawCandidate) {
			for len(rc.Candles) < 6 {
				rc.Candles = append(rc.Candles, rawBar(50.0, 55.0, 45.0, 52.0))
			}
		}, qerrors.CodeBadCandleCount},
		{"string price", func(rc *models.RawCandidate) { rc.Candles[1].C = "52" }, qerrors.CodeBadFieldType},
		{"missing price", func(rc *models.RawCandidate) { rc.Candles[0].H = nil }, qerrors.CodeBadFieldType},
		{"bad volume", func(rc *models.RawCandidate) { rc.Candles[0].V = true }, qerrors.CodeBadFieldType},
		{"nan price", func(rc *models.RawCandidate) { rc.Candles[0].O = math.NaN() }, qerrors.CodeBadFieldType},
		{"low above body", func(rc *models.RawCandidate) { rc.Candles[0] = rawBar(50.0, 51.0, 47.0, 45.0) }, qerrors.CodeGeomLow},
		{"high below body", func(rc *models.RawCandidate) { rc.Candles[1] = rawBar(44.0, 50.0, 43.0, 52.0) }, qerrors.CodeGeomHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := candidate()
			tt.mutate(&rc)
			_, err := Validate(rc, easy3)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if got := codeOf(err); got != tt.code {
				t.Errorf("code = %q, want %q (%v)", got, tt.code, err)
			}
		})
	}
}

func TestValidateSentinels(t *testing.T) {
	rc := candidate()
	rc.Candles[0] = rawBar(50.0, 51.0, 47.0, 45.0)
	if _, err := Validate(rc, easy3); !qerrors.Is(err, qerrors.ErrGeomLow) {
		t.Errorf("geometry rejection should match ErrGeomLow: %v", err)
	}
	rc = candidate()
	rc.Label = nil
	if _, err := Validate(rc, easy3); !qerrors.Is(err, qerrors.ErrMissingField) {
		t.Errorf("schema rejection should match ErrMissingField: %v", err)
	}
}

func TestValidateRenormalizesOutOfRange(t *testing.T) {
	rc := candidate()
	rc.Candles = []models.RawBar{
		rawBar(200.0, 204.0, 176.0, 180.0),
		rawBar(176.0, 212.0, 172.0, 208.0),
	}
	it, report, err := New(zerolog.Nop()).ValidateWithReport(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.Renormalized {
		t.Error("expected renormalization")
	}
	for _, b := range it.Candles {
		for _, x := range []float64{b.O, b.H, b.L, b.C} {
			if x < 0 || x > 100 {
				t.Fatalf("value %v outside [0,100]", x)
			}
		}
	}
	if it.Label != models.LabelBullish {
		t.Errorf("scaled engulfing should stay bullish, got %s", it.Label)
	}
}

func TestValidateAcceptsSmallOvershoot(t *testing.T) {
	rc := candidate()
	rc.Candles[1] = rawBar(44.0, 100.0005, 43.0, 52.0)
	_, report, err := New(zerolog.Nop()).ValidateWithReport(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Renormalized {
		t.Error("values within epsilon of 100 should not be rescaled")
	}
}

func TestValidateDojiDowngrade(t *testing.T) {
	doji := []models.RawBar{
		rawBar(60.0, 61.0, 54.0, 55.0),
		rawBar(52.0, 52.45, 48.0, 52.4),
	}

	rc := candidate()
	rc.Candles = doji
	it, report, err := New(zerolog.Nop()).ValidateWithReport(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if it.Label != models.LabelNeutral || !it.Ambiguous || report.AmbiguityReason != ReasonDojiLike {
		t.Errorf("got label %s ambiguous %v reason %q, want neutral doji-like", it.Label, it.Ambiguous, report.AmbiguityReason)
	}

	// A hammer's small body is its defining feature.
	rc = candidate()
	rc.Candles = doji
	rc.PatternHint = strp(patterns.Hammer)
	it, _, err = New(zerolog.Nop()).ValidateWithReport(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if it.Label != models.LabelBullish || it.Ambiguous {
		t.Errorf("hammer got label %s ambiguous %v, want bullish", it.Label, it.Ambiguous)
	}
}

func TestValidateDetectorDisagreement(t *testing.T) {
	rc := candidate()
	rc.Label = strp("Bearish")
	it, report, err := New(zerolog.Nop()).ValidateWithReport(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.DetectedLabel != models.LabelBullish {
		t.Fatalf("detected %s, want bullish", report.DetectedLabel)
	}
	if it.Label != models.LabelNeutral || !it.Ambiguous || report.AmbiguityReason != ReasonDetector {
		t.Errorf("got label %s reason %q, want neutral detector-disagreement", it.Label, report.AmbiguityReason)
	}
}

func TestValidateDetectorSilenceKeepsLabel(t *testing.T) {
	rc := candidate()
	rc.Label = strp("bearish")
	rc.Candles = []models.RawBar{
		rawBar(40.0, 52.0, 38.0, 50.0),
		rawBar(50.0, 62.0, 48.0, 60.0),
	}
	it, report, err := New(zerolog.Nop()).ValidateWithReport(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(report.Detected) != 0 {
		t.Fatalf("expected no detections, got %v", report.Detected)
	}
	if it.Label != models.LabelBearish || it.Ambiguous {
		t.Errorf("label %s ambiguous %v, want bearish unchanged", it.Label, it.Ambiguous)
	}
}

func TestValidateRationaleFit(t *testing.T) {
	rc := candidate()
	rc.Rationale = []string{"  ", "one"}
	it, err := Validate(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(it.Rationale) != 2 || it.Rationale[0] != "one" {
		t.Errorf("padded rationale = %q", it.Rationale)
	}
	if !strings.Contains(it.Rationale[1], "down") {
		t.Errorf("filler should describe the context, got %q", it.Rationale[1])
	}

	rc.Rationale = []string{"a", "b", "c", "d", "e", "f"}
	it, err = Validate(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !reflect.DeepEqual(it.Rationale, []string{"a", "b", "c", "d"}) {
		t.Errorf("trimmed rationale = %q", it.Rationale)
	}
}

func TestValidateBackfillsAndDrops(t *testing.T) {
	rc := candidate()
	rc.ID = nil
	rc.Context = &models.Context{Trend: "sideways", Vol: "extreme"}
	rc.Extra = map[string]any{"timestamp": "2024-01-01", "date": "x"}

	it, report, err := New(zerolog.Nop()).ValidateWithReport(rc, easy3)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !strings.HasPrefix(it.ID, "ai-") {
		t.Errorf("backfilled id = %q", it.ID)
	}
	again, _ := Validate(rc, easy3)
	if again.ID != it.ID {
		t.Error("backfilled id should depend only on content")
	}
	if it.Context != models.DefaultContext() {
		t.Errorf("invalid context should fall back to default, got %+v", it.Context)
	}
	if !reflect.DeepEqual(report.DroppedFields, []string{"date", "timestamp"}) {
		t.Errorf("dropped = %v", report.DroppedFields)
	}

	seed := int64(42)
	rc.Seed = &seed
	if it, _ := Validate(rc, easy3); it.ID != "ai-42" {
		t.Errorf("seeded id = %q, want ai-42", it.ID)
	}
}

// Property: validating an accepted item again changes nothing.
func TestProperty_ValidateIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	g := synth.NewGeneratorWithSource(synth.DefaultVariants, rand.NewSource(7))
	v := New(zerolog.Nop())

	names := make([]interface{}, 0)
	for _, d := range patterns.All() {
		names = append(names, d.Name)
	}

	properties.Property("Validate(Validate(x)) == Validate(x)", prop.ForAll(
		func(pattern string, variant, bars int) bool {
			raw, err := g.ForVariant(bars, 3, models.DifficultyHard, pattern, variant)
			if err != nil {
				return false
			}
			settings := models.Settings{Difficulty: models.DifficultyHard, Candles: bars, Horizon: 3}

			once, err := v.Validate(models.CandidateFromItem(raw), settings)
			if err != nil {
				return false
			}
			twice, err := v.Validate(models.CandidateFromItem(once), settings)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(once, twice)
		},
		gen.OneConstOf(names...),
		gen.IntRange(0, synth.DefaultVariants-1),
		gen.IntRange(models.MinCandles, models.MaxCandles),
	))

	properties.TestingRun(t)
}
