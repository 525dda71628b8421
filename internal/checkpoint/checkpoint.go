// Package checkpoint records the interrupt a thread is currently paused at,
// so a client that lost its stream can find out what decision is pending.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"research-gateway/internal/config"
)

// ErrNotFound is returned when a thread has no pending interrupt.
var ErrNotFound = errors.New("pending interrupt not found")

// Pending is the last interrupt emitted for a thread that has not been
// resumed yet.
type Pending struct {
	ThreadID    string          `json:"thread_id"`
	InterruptID string          `json:"interrupt_id"`
	Content     json.RawMessage `json:"content,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store persists pending interrupts keyed by thread id.
type Store interface {
	SavePending(ctx context.Context, p Pending) error
	Pending(ctx context.Context, threadID string) (*Pending, error)
	ClearPending(ctx context.Context, threadID string) error
	Close() error
}

// Open builds the store selected by cfg.Backend.
func Open(cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Backend {
	case "", config.CheckpointMemory:
		return NewMemoryStore(cfg.TTL), nil
	case config.CheckpointSQLite:
		return NewSQLiteStore(cfg.SQLitePath, cfg.TTL)
	case config.CheckpointRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, WithTTL(cfg.TTL)), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend %q", cfg.Backend)
	}
}

func validate(p Pending) error {
	if p.ThreadID == "" {
		return errors.New("thread id is required")
	}
	if p.InterruptID == "" {
		return errors.New("interrupt id is required")
	}
	return nil
}
