// Package session implements the hybrid quiz session: a queue of
// externally generated items backed by local synthesis, persisted so a
// restarted process resumes where it stopped.
package session

import (
	"context"
	"fmt"

	"candle-quiz/internal/models"
	"candle-quiz/internal/store"
	"candle-quiz/pkg/utils"
)

// StateKey is where the active session is persisted.
const StateKey = "ta:hybrid:state"

// Cursor walks a shuffled order, reshuffling when it runs out.
type Cursor struct {
	Order []int `json:"order"`
	Pos   int   `json:"pos"`
	Round int   `json:"round"`
}

// State is everything a session needs to resume.
type State struct {
	Hash            string             `json:"hash"`
	Settings        models.Settings    `json:"settings"`
	ExternalQueue   []models.Item      `json:"external_queue"`
	LocalQueue      []models.Item      `json:"local_queue"`
	PatternCursors  map[string]*Cursor `json:"pattern_cursors"`
	VariantCursors  map[string]*Cursor `json:"variant_cursors"`
	UsedVariants    []string           `json:"used_variants"`
	IDs             map[string]bool    `json:"ids"`
	BatchFired      bool               `json:"batch_fired"`
	BatchRequestID  string             `json:"batch_request_id,omitempty"`
	OfflineNotified bool               `json:"offline_notified"`
	Served          int                `json:"served"`
	Discarded       int                `json:"discarded"`
	Duplicates      int                `json:"duplicates"`

	used map[string]struct{}
}

// SettingsHash identifies a session by its settings.
func SettingsHash(s models.Settings) string {
	return fmt.Sprintf("%08x", utils.Hash(s.Normalized().Key()))
}

func newState(settings models.Settings) *State {
	s := &State{
		Hash:     SettingsHash(settings),
		Settings: settings.Normalized(),
	}
	s.init()
	return s
}

func (s *State) init() {
	if s.PatternCursors == nil {
		s.PatternCursors = make(map[string]*Cursor)
	}
	if s.VariantCursors == nil {
		s.VariantCursors = make(map[string]*Cursor)
	}
	if s.IDs == nil {
		s.IDs = make(map[string]bool)
	}
	s.used = make(map[string]struct{}, len(s.UsedVariants))
	for _, k := range s.UsedVariants {
		s.used[k] = struct{}{}
	}
}

func (s *State) isUsed(key string) bool {
	_, ok := s.used[key]
	return ok
}

func (s *State) markUsed(key string) {
	if s.isUsed(key) {
		return
	}
	s.used[key] = struct{}{}
	s.UsedVariants = append(s.UsedVariants, key)
}

func loadState(ctx context.Context, kv store.KV) (*State, bool) {
	var s State
	if !store.ReadJSON(ctx, kv, StateKey, &s) || s.Hash == "" {
		return nil, false
	}
	s.init()
	return &s, true
}

func saveState(ctx context.Context, kv store.KV, s *State) bool {
	return store.WriteJSON(ctx, kv, StateKey, s)
}
