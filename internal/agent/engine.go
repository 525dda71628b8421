package agent

import (
	"context"
	"errors"
	"fmt"
)

// Engine is the contract for the research workflow backend. Stream starts one
// turn and returns its event stream; an error here is a setup failure.
type Engine interface {
	Stream(ctx context.Context, input TurnInput, cfg RunConfig) (EventStream, error)
}

// EventStream yields raw events in production order. Next returns io.EOF once
// the turn is exhausted. Close releases the stream, may be called more than
// once, and must unblock a Next call running concurrently.
type EventStream interface {
	Next(ctx context.Context) (RawEvent, error)
	Close() error
}

// RunConfig carries the per-turn settings handed to the engine.
type RunConfig struct {
	ThreadID          string         `json:"thread_id"`
	Resources         []Resource     `json:"resources"`
	MaxPlanIterations int            `json:"max_plan_iterations"`
	MaxStepNum        int            `json:"max_step_num"`
	MaxSearchResults  int            `json:"max_search_results"`
	MCPSettings       map[string]any `json:"mcp_settings,omitempty"`
}

// EngineUnavailableError indicates the engine could not be constructed at
// startup, so no stream can be served.
type EngineUnavailableError struct {
	Reason string
}

func (e *EngineUnavailableError) Error() string {
	if e.Reason == "" {
		return "workflow engine unavailable"
	}
	return fmt.Sprintf("workflow engine unavailable: %s", e.Reason)
}

// IsEngineUnavailable returns whether err indicates an unavailable engine.
func IsEngineUnavailable(err error) bool {
	var target *EngineUnavailableError
	return errors.As(err, &target)
}

// EngineFactory constructs the engine. It runs exactly once per process.
type EngineFactory func(ctx context.Context) (Engine, error)

// EngineHandle holds the result of the one-shot engine construction. A handle
// built from a failed factory never retries; every stream request sees the
// same EngineUnavailableError.
type EngineHandle struct {
	engine  Engine
	initErr error
}

// InitEngine runs factory and captures its outcome.
func InitEngine(ctx context.Context, factory EngineFactory) *EngineHandle {
	if factory == nil {
		return &EngineHandle{initErr: errors.New("no engine configured")}
	}
	engine, err := factory(ctx)
	if err == nil && engine == nil {
		err = errors.New("engine factory returned nil")
	}
	if err != nil {
		return &EngineHandle{initErr: err}
	}
	return &EngineHandle{engine: engine}
}

// Engine returns the constructed engine or an *EngineUnavailableError.
func (h *EngineHandle) Engine() (Engine, error) {
	if h == nil {
		return nil, &EngineUnavailableError{Reason: "no engine configured"}
	}
	if h.initErr != nil {
		return nil, &EngineUnavailableError{Reason: h.initErr.Error()}
	}
	return h.engine, nil
}

// Ready reports whether the engine was constructed.
func (h *EngineHandle) Ready() bool {
	return h != nil && h.engine != nil
}

// InitError returns the construction failure, if any.
func (h *EngineHandle) InitError() error {
	if h == nil {
		return errors.New("no engine configured")
	}
	return h.initErr
}
