package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qistpay/authcore/internal/models"
)

const redisKeyPrefix = "arl"

// RedisStore shares rate limit state across instances through redis.
// Mutate uses an optimistic WATCH transaction so concurrent mutations of
// the same identity retry instead of losing updates. Entries carry a TTL
// in place of the in-memory sweep.
type RedisStore struct {
	client    *redis.Client
	entryTTL  time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewRedisStore creates a redis-backed state store
func NewRedisStore(client *redis.Client, entryTTL time.Duration, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		entryTTL:  entryTTL,
		opTimeout: 2 * time.Second,
		logger:    logger,
	}
}

func (s *RedisStore) key(identity string) string {
	return redisKeyPrefix + ":" + identity
}

// Mutate runs fn against the persisted state for key. The WATCH loop
// retries a bounded number of times on contention; on redis failure the
// mutation degrades to local-only state so a cache outage cannot take
// down the request path.
func (s *RedisStore) Mutate(identity string, fn func(st *models.RateLimitState) *models.RateLimitState) *models.RateLimitState {
	const maxRetries = 4

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	key := s.key(identity)
	var result *models.RateLimitState

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var current *models.RateLimitState

			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				current = &models.RateLimitState{}
				if err := json.Unmarshal(data, current); err != nil {
					// Corrupt record: start over rather than fail the request
					current = nil
				}
			case err != redis.Nil:
				return err
			}

			result = fn(current)

			encoded, err := json.Marshal(result)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.entryTTL)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return result
		}
		if err == redis.TxFailedErr {
			continue
		}

		s.logger.Error("redis rate limit state unavailable",
			slog.String("identity", identity),
			slog.Any("error", err))
		break
	}

	if result == nil {
		result = fn(nil)
	}
	return result
}

// Sweep is a no-op for redis; entry TTLs handle eviction
func (s *RedisStore) Sweep(_ time.Time, _ func(st *models.RateLimitState) bool) int {
	return 0
}
