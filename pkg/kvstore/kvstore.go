// Package kvstore is a thin, total transport over an external key/value
// service. Every operation degrades to its zero value on a backend or
// network error instead of propagating one — callers never see a KV error,
// only absence.
package kvstore

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the KV contract the rest of the fabric depends on. C2 (the
// two-tier cache) is its only caller.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	MGet(ctx context.Context, keys []string) [][]byte
	MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration)
	Del(ctx context.Context, key string)
	Scan(ctx context.Context, pattern string) []string
	Flush(ctx context.Context)
	Healthy() bool
	Stats() Stats
}

// Stats mirrors the external metrics surface's cache counters.
type Stats struct {
	Hits       int64
	Misses     int64
	Errors     int64
	Operations int64
	Connected  bool
}

// RedisStore backs Store with a go-redis client. The bounded,
// doubling-backoff liveness probe runs once, from New; later operations do
// not re-run it, and Healthy() reflects the outcome of the most recent
// operation.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger

	hits       atomic.Int64
	misses     atomic.Int64
	errs       atomic.Int64
	operations atomic.Int64
	healthy    atomic.Bool
}

// Options configure the connection. Field names mirror the configuration
// table's KV_HOST / KV_PORT / KV_PASSWORD / KV_DB keys.
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
}

const (
	reconnectInitialDelay = 1 * time.Second
	reconnectMaxAttempts  = 5
)

// New creates a RedisStore and performs an initial liveness probe with
// bounded-backoff retry. The store is returned regardless of whether the
// probe succeeds — Healthy() reflects the outcome, and every operation
// remains total.
func New(ctx context.Context, opts Options, log *zap.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr(opts),
		Password: opts.Password,
		DB:       opts.DB,
	})

	s := &RedisStore{client: client, log: log.Named("kvstore")}
	s.reconnect(ctx)
	return s
}

func addr(opts Options) string {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = 6379
	}
	return host + ":" + strconv.Itoa(port)
}

// reconnect probes liveness with doubling backoff, capped at
// reconnectMaxAttempts before giving up. Only New calls it.
func (s *RedisStore) reconnect(ctx context.Context) {
	delay := reconnectInitialDelay
	for attempt := 1; attempt <= reconnectMaxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.client.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			s.healthy.Store(true)
			return
		}

		s.log.Warn("kvstore: ping failed, backing off",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		if attempt == reconnectMaxAttempts {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	s.healthy.Store(false)
}

func (s *RedisStore) Healthy() bool {
	return s.healthy.Load()
}

func (s *RedisStore) Stats() Stats {
	return Stats{
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Errors:     s.errs.Load(),
		Operations: s.operations.Load(),
		Connected:  s.healthy.Load(),
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	s.operations.Add(1)
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.misses.Add(1)
		s.healthy.Store(true)
		return nil, false
	}
	if err != nil {
		s.errs.Add(1)
		s.healthy.Store(false)
		return nil, false
	}
	s.hits.Add(1)
	s.healthy.Store(true)
	return val, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	s.operations.Add(1)
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.errs.Add(1)
		s.healthy.Store(false)
		return
	}
	s.healthy.Store(true)
}

func (s *RedisStore) MGet(ctx context.Context, keys []string) [][]byte {
	s.operations.Add(1)
	if len(keys) == 0 {
		return nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	out := make([][]byte, len(keys))
	if err != nil {
		s.errs.Add(1)
		s.healthy.Store(false)
		return out
	}
	s.healthy.Store(true)
	for i, v := range raw {
		if v == nil {
			s.misses.Add(1)
			continue
		}
		str, ok := v.(string)
		if !ok {
			s.misses.Add(1)
			continue
		}
		s.hits.Add(1)
		out[i] = []byte(str)
	}
	return out
}

func (s *RedisStore) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) {
	if len(entries) == 0 {
		return
	}
	s.operations.Add(1)
	pipe := s.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, k, v, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.errs.Add(1)
		s.healthy.Store(false)
		return
	}
	s.healthy.Store(true)
}

func (s *RedisStore) Del(ctx context.Context, key string) {
	s.operations.Add(1)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.errs.Add(1)
		s.healthy.Store(false)
		return
	}
	s.healthy.Store(true)
}

// Scan enumerates keys matching pattern using Redis's cursor-based SCAN,
// never the blocking KEYS command — the non-blocking enumeration spec.md §9
// open question 2 requires.
func (s *RedisStore) Scan(ctx context.Context, pattern string) []string {
	s.operations.Add(1)
	var matches []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		matches = append(matches, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.errs.Add(1)
		s.healthy.Store(false)
		return matches
	}
	s.healthy.Store(true)
	return matches
}

func (s *RedisStore) Flush(ctx context.Context) {
	s.operations.Add(1)
	if err := s.client.FlushDB(ctx).Err(); err != nil {
		s.errs.Add(1)
		s.healthy.Store(false)
	}
}
