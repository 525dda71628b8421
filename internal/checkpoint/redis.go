package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "research:interrupt:"

// RedisStore keeps pending interrupts as JSON values in Redis. Expiry is
// delegated to Redis key TTLs.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*RedisStore)

// WithTTL sets the expiration of pending entries.
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects a new client to address.
func NewRedisStore(address, password string, db int, opts ...Option) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...Option) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

func (s *RedisStore) SavePending(ctx context.Context, p Pending) error {
	if err := validate(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending interrupt: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.ThreadID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Pending(ctx context.Context, threadID string) (*Pending, error) {
	val, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var p Pending
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending interrupt: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) ClearPending(ctx context.Context, threadID string) error {
	return s.client.Del(ctx, s.key(threadID)).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
