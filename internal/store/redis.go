package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"candle-quiz/pkg/utils"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore implements KV on a Redis server, letting several quiz
// front-ends share one session record.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore connects and pings the server, retrying briefly so a
// server that is still starting is not reported as down.
func NewRedisStore(opts RedisOptions, logger zerolog.Logger) (*RedisStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "quiz"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	retry := utils.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	if err := utils.Retry(ctx, retry, func() error { return client.Ping(ctx).Err() }); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: opts.Prefix,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}, nil
}

func (r *RedisStore) key(k string) string {
	return r.prefix + ":" + k
}

func (r *RedisStore) Read(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Read failed")
		return nil, false
	}
	return data, true
}

func (r *RedisStore) Write(ctx context.Context, key string, value []byte) bool {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Write failed")
		return false
	}
	return true
}

func (r *RedisStore) Delete(ctx context.Context, key string) bool {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Delete failed")
		return false
	}
	return true
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
