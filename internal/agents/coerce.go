package agents

import (
	"fmt"
	"math"
	"strings"

	"candle-quiz/internal/models"
)

var knownFields = map[string]bool{
	"id":           true,
	"horizon":      true,
	"context":      true,
	"candles":      true,
	"pattern_hint": true,
	"label":        true,
	"rationale":    true,
	"seed":         true,
	"source":       true,
	"ambiguous":    true,
}

// Coerce maps a decoded payload object onto a raw candidate. It renames
// long-form candle keys, parses free-text context and lowercases the
// label. It never rejects; validation decides what survives.
func Coerce(obj map[string]any) models.RawCandidate {
	var rc models.RawCandidate

	if v, ok := obj["id"]; ok && v != nil {
		s := scalarString(v)
		rc.ID = &s
	}
	if v, ok := asNumber(obj["horizon"]); ok {
		h := int(v)
		rc.Horizon = &h
	}
	if v, ok := obj["context"]; ok {
		rc.Context = coerceContext(v)
	}
	if v, ok := obj["candles"]; ok && v != nil {
		rc.Candles = coerceCandles(v)
	}
	if v, ok := obj["pattern_hint"]; ok && v != nil {
		s := strings.TrimSpace(scalarString(v))
		rc.PatternHint = &s
	}
	if v, ok := obj["label"]; ok && v != nil {
		s := strings.ToLower(strings.TrimSpace(scalarString(v)))
		rc.Label = &s
	}
	if v, ok := obj["rationale"]; ok && v != nil {
		rc.Rationale = coerceRationale(v)
	}
	if v, ok := asNumber(obj["seed"]); ok {
		s := int64(v)
		rc.Seed = &s
	}
	if b, ok := obj["ambiguous"].(bool); ok {
		rc.Ambiguous = b
	}

	for k, v := range obj {
		if knownFields[k] {
			continue
		}
		if rc.Extra == nil {
			rc.Extra = make(map[string]any)
		}
		rc.Extra[k] = v
	}

	rc.Source = models.SourceExternal
	return rc
}

// CoerceSingle accepts an object or an array-wrapped object.
func CoerceSingle(payload any) (models.RawCandidate, bool) {
	switch v := payload.(type) {
	case map[string]any:
		return Coerce(v), true
	case []any:
		if len(v) == 0 {
			return models.RawCandidate{}, false
		}
		obj, ok := v[0].(map[string]any)
		if !ok {
			return models.RawCandidate{}, false
		}
		return Coerce(obj), true
	}
	return models.RawCandidate{}, false
}

// CoerceBatch accepts an array of objects, an object wrapping one under
// "items", or a bare object. At most limit candidates are returned.
func CoerceBatch(payload any, limit int) []models.RawCandidate {
	var elems []any
	switch v := payload.(type) {
	case []any:
		elems = v
	case map[string]any:
		if inner, ok := v["items"].([]any); ok {
			elems = inner
		} else {
			elems = []any{v}
		}
	}

	out := make([]models.RawCandidate, 0, len(elems))
	for _, e := range elems {
		if limit > 0 && len(out) >= limit {
			break
		}
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Coerce(obj))
	}
	return out
}

func coerceCandles(v any) []models.RawBar {
	list, ok := v.([]any)
	if !ok {
		// a non-array stands in for zero candles
		return []models.RawBar{}
	}
	bars := make([]models.RawBar, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		bars[i] = models.RawBar{
			O: firstOf(m, "o", "open"),
			H: firstOf(m, "h", "high"),
			L: firstOf(m, "l", "low"),
			C: firstOf(m, "c", "close"),
			V: firstOf(m, "v", "volume"),
		}
	}
	return bars
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func coerceContext(v any) *models.Context {
	switch c := v.(type) {
	case string:
		s := strings.ToLower(c)
		ctx := models.Context{
			Trend: trendOf(s),
			Vol:   volOf(s),
			Gap:   strings.Contains(s, "gap"),
		}
		return &ctx
	case map[string]any:
		ctx := models.Context{
			Trend: trendOf(strings.ToLower(scalarString(c["trend"]))),
			Vol:   volOf(strings.ToLower(scalarString(c["vol"]))),
			Gap:   gapOf(c["gap"]),
		}
		return &ctx
	}
	return nil
}

func trendOf(s string) models.Trend {
	switch {
	case strings.Contains(s, "down"):
		return models.TrendDown
	case strings.Contains(s, "up"):
		return models.TrendUp
	default:
		return models.TrendSide
	}
}

func volOf(s string) models.Volatility {
	switch {
	case strings.Contains(s, "high"):
		return models.VolHigh
	case strings.Contains(s, "low"):
		return models.VolLow
	default:
		return models.VolMed
	}
}

func gapOf(v any) bool {
	switch g := v.(type) {
	case bool:
		return g
	case string:
		s := strings.ToLower(g)
		return strings.Contains(s, "true") || strings.Contains(s, "yes") || strings.Contains(s, "gap")
	case float64:
		return g != 0
	}
	return false
}

func coerceRationale(v any) []string {
	switch r := v.(type) {
	case string:
		return []string{r}
	case []any:
		out := make([]string, 0, len(r))
		for _, e := range r {
			if e == nil {
				continue
			}
			out = append(out, scalarString(e))
		}
		return out
	}
	return []string{}
}

func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func scalarString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	default:
		return fmt.Sprint(s)
	}
}
