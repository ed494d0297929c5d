// Package store provides the key/value persistence collaborator.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// KV is an opaque key/value store. Durability and quota failures are
// logged and swallowed by implementations, never surfaced to callers.
type KV interface {
	Read(ctx context.Context, key string) ([]byte, bool)
	Write(ctx context.Context, key string, value []byte) bool
	Delete(ctx context.Context, key string) bool
	Close() error
}

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the backend named in opts.
func Open(opts Options, logger zerolog.Logger) (KV, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return NewSQLiteStore(opts.Path, logger)
	case BackendRedis:
		return NewRedisStore(RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
		}, logger)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}

// ReadJSON decodes the value at key into v. It reports false when the key
// is absent or the stored value does not decode.
func ReadJSON(ctx context.Context, kv KV, key string, v any) bool {
	data, ok := kv.Read(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// WriteJSON encodes v and stores it at key.
func WriteJSON(ctx context.Context, kv KV, key string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return kv.Write(ctx, key, data)
}

// MemoryStore is an in-process KV, used for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Read(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *MemoryStore) Write(_ context.Context, key string, value []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return true
}

func (m *MemoryStore) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return true
}

func (m *MemoryStore) Close() error { return nil }
