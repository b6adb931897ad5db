package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// IdempotencyKeyPrefix namespaces cached responses
const IdempotencyKeyPrefix = "idempotency:"

// Response is a stored answer to a request, replayed verbatim when the same
// idempotency key comes again.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore keeps the responses of requests carrying an idempotency
// key and serializes requests sharing one.
type IdempotencyStore struct {
	rdb         redis.Cmdable
	ttl         time.Duration
	lockTimeout time.Duration
	logger      *slog.Logger
}

func NewIdempotencyStore(logger *slog.Logger, rdb redis.Cmdable, ttl, lockTimeout time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		rdb:         rdb,
		ttl:         ttl,
		lockTimeout: lockTimeout,
		logger:      logger.With("component", "idempotency_store"),
	}
}

// Get returns the stored response for key, or nil when there is none.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*Response, error) {
	raw, err := s.rdb.Get(ctx, IdempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotent response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode idempotent response: %w", err)
	}
	return &resp, nil
}

// Lock reserves key while its request runs. It returns false if another
// request holds it.
func (s *IdempotencyStore) Lock(ctx context.Context, key string) (bool, error) {
	acquired, err := s.rdb.SetNX(ctx, LockKeyPrefix+IdempotencyKeyPrefix+key, "processing", s.lockTimeout).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lock idempotency key: %w", err)
	}
	return acquired, nil
}

func (s *IdempotencyStore) Unlock(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, LockKeyPrefix+IdempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to unlock idempotency key: %w", err)
	}
	return nil
}

// Save stores resp under key for the configured ttl.
func (s *IdempotencyStore) Save(ctx context.Context, key string, resp *Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode idempotent response: %w", err)
	}
	if err := s.rdb.Set(ctx, IdempotencyKeyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	s.logger.Debug("Cached response", "key", key, "ttl", s.ttl.String())
	return nil
}
