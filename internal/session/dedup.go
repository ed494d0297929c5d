package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"

	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/models"
	"candle-quiz/internal/store"
)

// Deduplication history settings.
const (
	DedupKey    = "ta:dedup:recent"
	DedupWindow = 200
)

// Fingerprint hashes an item's pattern, context and geometry rounded to
// one decimal place.
func Fingerprint(it models.Item) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(it.PatternHint))
	b.WriteByte('|')
	b.WriteString(string(it.Context.Trend))
	b.WriteByte('|')
	b.WriteString(string(it.Context.Vol))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(it.Context.Gap))
	for _, bar := range it.Candles {
		b.WriteByte('|')
		for i, v := range [4]float64{bar.O, bar.H, bar.L, bar.C} {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(v, 'f', 1, 64))
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Deduper remembers the most recent fingerprints across sessions.
type Deduper struct {
	mu     sync.Mutex
	kv     store.KV
	recent []string
}

// NewDeduper loads the persisted history from kv.
func NewDeduper(ctx context.Context, kv store.KV) *Deduper {
	d := &Deduper{kv: kv}
	store.ReadJSON(ctx, kv, DedupKey, &d.recent)
	return d
}

// Check returns ErrDuplicateItem when it matches a remembered
// fingerprint. Otherwise the fingerprint is recorded.
func (d *Deduper) Check(ctx context.Context, it models.Item) error {
	fp := Fingerprint(it)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, seen := range d.recent {
		if seen == fp {
			return qerrors.ErrDuplicateItem
		}
	}

	d.recent = append([]string{fp}, d.recent...)
	if len(d.recent) > DedupWindow {
		d.recent = d.recent[:DedupWindow]
	}
	store.WriteJSON(ctx, d.kv, DedupKey, d.recent)
	return nil
}

// Len returns the number of remembered fingerprints.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.recent)
}
