package session

import (
	"context"
	"sync"

	"candle-quiz/internal/store"
)

// Recent pattern tracking.
const (
	RecentKey   = "ta:seen:recent"
	RecentLimit = 10
	AvoidCount  = 3
)

// RecentPatterns keeps the last served pattern names, newest first and
// without repeats.
type RecentPatterns struct {
	mu    sync.Mutex
	kv    store.KV
	names []string
}

// NewRecentPatterns loads the persisted list.
func NewRecentPatterns(ctx context.Context, kv store.KV) *RecentPatterns {
	r := &RecentPatterns{kv: kv}
	store.ReadJSON(ctx, kv, RecentKey, &r.names)
	return r
}

// Push moves name to the front.
func (r *RecentPatterns) Push(ctx context.Context, name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, RecentLimit)
	out = append(out, name)
	for _, n := range r.names {
		if n != name && len(out) < RecentLimit {
			out = append(out, n)
		}
	}
	r.names = out
	store.WriteJSON(ctx, r.kv, RecentKey, r.names)
}

// List returns the remembered names, newest first.
func (r *RecentPatterns) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

// Avoid returns the names to steer the external generator away from.
func (r *RecentPatterns) Avoid() []string {
	names := r.List()
	if len(names) > AvoidCount {
		names = names[:AvoidCount]
	}
	return names
}
