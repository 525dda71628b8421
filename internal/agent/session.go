package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// OutcomeKind classifies how a session ended.
type OutcomeKind int

const (
	// OutcomeCompleted means the engine stream was exhausted.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeSetupFailed means the engine stream could not be opened.
	OutcomeSetupFailed
	// OutcomeProcessingFailed means consuming one item failed.
	OutcomeProcessingFailed
	// OutcomeTimedOut means the stream deadline expired.
	OutcomeTimedOut
	// OutcomeCancelled means the consumer went away or the run was stopped.
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSetupFailed:
		return "setup_failed"
	case OutcomeProcessingFailed:
		return "processing_failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one session run.
type Outcome struct {
	Kind OutcomeKind
	Err  error
	// Events is the number of wire events handed to the emitter successfully.
	Events int
}

// ErrConsumerGone marks an emitter failure caused by the downstream reader
// disappearing. The session treats it as cancellation, not as a failure.
var ErrConsumerGone = errors.New("stream consumer gone")

// Emitter receives wire events in engine order.
type Emitter func(WireEvent) error

// Session drives one engine turn and translates its output. A session is
// single-use.
type Session struct {
	threadID string
	input    TurnInput
	config   RunConfig
	engine   Engine
	logger   *slog.Logger
	onOpen   func()
}

// NewSession prepares a session; nothing runs until Run.
func NewSession(engine Engine, threadID string, input TurnInput, cfg RunConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		threadID: threadID,
		input:    input,
		config:   cfg,
		engine:   engine,
		logger:   logger.With("thread_id", threadID),
	}
}

// OnOpen registers fn to run once the engine stream is open, before the
// first pull. It is not called when setup fails.
func (s *Session) OnOpen(fn func()) {
	s.onOpen = fn
}

type pulled struct {
	event RawEvent
	err   error
}

// Run consumes the engine stream until it is exhausted, an item fails, or ctx
// is done. It never emits after ctx is observed done. Terminal error events
// are left to the caller, which maps the returned Outcome.
func (s *Session) Run(ctx context.Context, emit Emitter) Outcome {
	stream, err := s.engine.Stream(ctx, s.input, s.config)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeCancelled, Err: ctx.Err()}
		}
		return Outcome{Kind: OutcomeSetupFailed, Err: err}
	}
	defer func() {
		if err := stream.Close(); err != nil {
			s.logger.Debug("engine stream close failed", "error", err)
		}
	}()
	if s.onOpen != nil {
		s.onOpen()
	}

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	items := make(chan pulled)
	go pump(pumpCtx, stream, items)

	emitted := 0
	for {
		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeCancelled, Err: ctx.Err(), Events: emitted}
		case item, ok := <-items:
			if !ok {
				if ctx.Err() != nil {
					return Outcome{Kind: OutcomeCancelled, Err: ctx.Err(), Events: emitted}
				}
				return Outcome{Kind: OutcomeCompleted, Events: emitted}
			}
			if ctx.Err() != nil {
				return Outcome{Kind: OutcomeCancelled, Err: ctx.Err(), Events: emitted}
			}
			if item.err != nil {
				return Outcome{Kind: OutcomeProcessingFailed, Err: item.err, Events: emitted}
			}

			event, ok, err := s.process(item.event)
			if err != nil {
				return Outcome{Kind: OutcomeProcessingFailed, Err: err, Events: emitted}
			}
			if !ok {
				continue
			}
			if err := emit(event); err != nil {
				if errors.Is(err, ErrConsumerGone) {
					return Outcome{Kind: OutcomeCancelled, Err: err, Events: emitted}
				}
				return Outcome{Kind: OutcomeProcessingFailed, Err: err, Events: emitted}
			}
			emitted++
		}
	}
}

// process turns one raw item into the wire event to emit, if any.
func (s *Session) process(raw RawEvent) (WireEvent, bool, error) {
	if err := raw.Validate(); err != nil {
		return WireEvent{}, false, err
	}
	if raw.Kind == RawInterrupt {
		s.logger.Info("workflow interrupted", "interrupt_id", raw.Interrupt.ID)
		return InterruptWireEvent(s.threadID, *raw.Interrupt), true, nil
	}
	event, ok := Translate(s.threadID, raw)
	return event, ok, nil
}

// pump pulls items one at a time and hands them over unbuffered, so at most
// one item is read ahead of the consumer. It stops at the first error.
func pump(ctx context.Context, stream EventStream, out chan<- pulled) {
	defer close(out)
	for {
		event, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case out <- pulled{event: event, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
