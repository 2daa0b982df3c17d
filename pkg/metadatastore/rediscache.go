package metadatastore

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis"
)

// counterKeyPrefix namespaces invocation counters in the shared Redis
// keyspace from any other consumer.
const counterKeyPrefix = "openmcpskills:invocations:"

// RedisCountingStore decorates a Store with a Redis INCR fast path:
// IncrementInvocation bumps a Redis counter synchronously (cheap, never
// blocks on Postgres) and forwards the durable update to the wrapped
// store in the background. Get reports the larger of the Redis counter
// and the persisted count so readers see up-to-date numbers without
// waiting on the underlying store's own write latency.
//
// This is an optional fast path (spec §4.2 only requires the underlying
// store's update to be atomic and bounded-retried); when REDIS_ADDR is
// unset, callers use the underlying Store directly instead of wrapping it.
type RedisCountingStore struct {
	Store
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCountingStore wraps next with a Redis-backed counter cache.
func NewRedisCountingStore(next Store, client *redis.Client, logger *slog.Logger) *RedisCountingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCountingStore{Store: next, client: client, logger: logger}
}

func (s *RedisCountingStore) IncrementInvocation(ctx context.Context, skillID string, at time.Time) error {
	if err := s.client.Incr(counterKeyPrefix + skillID).Err(); err != nil {
		s.logger.Warn("redis counter increment failed, falling back to underlying store only",
			"skill_id", skillID, "error", err)
	}

	// The durable update still goes through the wrapped store's own
	// bounded-retry contract; only the fast read path is Redis-backed.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Store.IncrementInvocation(bgCtx, skillID, at); err != nil {
			s.logger.Warn("durable invocation increment failed", "skill_id", skillID, "error", err)
		}
	}()
	return nil
}

func (s *RedisCountingStore) Get(ctx context.Context, skillID string) (*Meta, error) {
	m, err := s.Store.Get(ctx, skillID)
	if err != nil {
		return nil, err
	}
	val, err := s.client.Get(counterKeyPrefix + skillID).Result()
	if err != nil {
		return m, nil // cache miss or Redis unavailable: persisted value stands.
	}
	if cached, parseErr := strconv.ParseInt(val, 10, 64); parseErr == nil && cached > m.InvocationCount {
		m.InvocationCount = cached
	}
	return m, nil
}
