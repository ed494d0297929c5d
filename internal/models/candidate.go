package models

// RawBar is a candle as it arrived from outside, before type checks.
// Fields hold whatever the decoder produced; numbers are float64.
type RawBar struct {
	O any
	H any
	L any
	C any
	V any
}

// RawCandidate is an unvalidated item. Nil pointers and nil slices mean
// the field was absent. Extra carries unrecognized top-level fields.
type RawCandidate struct {
	ID          *string
	Horizon     *int
	Context     *Context
	Candles     []RawBar
	PatternHint *string
	Label       *string
	Rationale   []string
	Seed        *int64
	Ambiguous   bool
	Source      Source
	Extra       map[string]any
}

// CandidateFromItem converts a validated item back into raw form.
func CandidateFromItem(it Item) RawCandidate {
	id := it.ID
	horizon := it.Horizon
	ctx := it.Context
	hint := it.PatternHint
	label := string(it.Label)
	seed := it.Seed

	bars := make([]RawBar, len(it.Candles))
	for i, b := range it.Candles {
		rb := RawBar{O: b.O, H: b.H, L: b.L, C: b.C}
		if b.V != nil {
			rb.V = *b.V
		}
		bars[i] = rb
	}

	return RawCandidate{
		ID:          &id,
		Horizon:     &horizon,
		Context:     &ctx,
		Candles:     bars,
		PatternHint: &hint,
		Label:       &label,
		Rationale:   append([]string(nil), it.Rationale...),
		Seed:        &seed,
		Ambiguous:   it.Ambiguous,
		Source:      it.Source,
	}
}
