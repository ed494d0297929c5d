package agents

import (
	"encoding/json"
	"strings"

	qerrors "candle-quiz/internal/errors"
)

// ExtractJSON returns the first well-formed JSON object or array in text.
// Code fences are unwrapped first; surrounding prose is skipped.
func ExtractJSON(text string) (any, error) {
	body := unfence(text)
	for i := 0; i < len(body); i++ {
		if body[i] != '{' && body[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(body[i:]))
		var v any
		if err := dec.Decode(&v); err == nil {
			return v, nil
		}
	}
	return nil, qerrors.ErrInvalidJSON
}

// unfence returns the contents of the first ``` block, or text unchanged.
func unfence(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// drop a language tag such as ```json
		if tag := strings.TrimSpace(rest[:nl]); !strings.ContainsAny(tag, "{[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		return rest[:end]
	}
	return rest
}
