package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/recallbench/internal/eval"
)

// keyPrefix namespaces checkpoint keys in redis.
const keyPrefix = "recallbench:checkpoint:"

// RedisStore keeps each report as a JSON string value. Redis TTL expires
// old checkpoints.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps client. A zero ttl keeps checkpoints forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Load reads and validates the report stored under key.
func (s *RedisStore) Load(ctx context.Context, key string) (*eval.Report, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", key, err)
	}
	return decode(data)
}

// Save stores the report and records its run id in a hash of runs.
func (s *RedisStore) Save(ctx context.Context, key string, r *eval.Report) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := encode(r)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+key, data, s.ttl)
	pipe.HSet(ctx, keyPrefix+"runs", key, r.Metadata.RunID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", key, err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
