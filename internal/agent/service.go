package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"research-gateway/internal/checkpoint"
	"research-gateway/internal/metrics"
)

const (
	defaultStreamTimeout = 1800 * time.Second
	checkpointOpTimeout  = 2 * time.Second
	terminalWriteTimeout = 5 * time.Second
)

var (
	// ErrThreadBusy is returned when a thread already has a running stream.
	ErrThreadBusy = errors.New("thread already has an active stream")
	// ErrNoActiveRun is returned by StopRun when nothing runs on the thread.
	ErrNoActiveRun = errors.New("no active stream for thread")

	errStreamTimeout = errors.New("stream deadline exceeded")
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// StreamTimeout bounds one whole stream. Zero selects 1800 seconds.
	StreamTimeout time.Duration
	// Checkpoints records pending interrupts. Optional.
	Checkpoints checkpoint.Store
	// Metrics instruments streams. Optional.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// FrameWriter receives encoded SSE frames. A write error means the consumer
// is gone. Writes must fail once the write deadline has passed, so a reader
// that stops reading cannot hold a stream open past its timeout. A zero
// deadline clears it.
type FrameWriter interface {
	WriteFrame(frame []byte) error
	SetWriteDeadline(t time.Time) error
}

// Service runs chat streams against the engine handle.
type Service struct {
	engines     *EngineHandle
	timeout     time.Duration
	checkpoints checkpoint.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// terminalWrite bounds delivery of the terminal error frame.
	terminalWrite time.Duration

	mu         sync.Mutex
	activeRuns map[string]*runControl
}

type runControl struct {
	runID string

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// stop cancels the run now, or as soon as it binds its context.
func (c *runControl) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *runControl) bind(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = cancel
	if c.stopped {
		cancel()
	}
}

// Run is a stream reserved on a thread and ready to execute.
type Run struct {
	ID       string
	ThreadID string
	Input    TurnInput
	Config   RunConfig

	engine      Engine
	control     *runControl
	service     *Service
	releaseOnce sync.Once
}

// Release frees the thread reservation. Stream calls it; callers that never
// reach Stream must call it themselves.
func (r *Run) Release() {
	r.releaseOnce.Do(func() {
		r.service.unregisterRun(r.ThreadID, r.ID)
	})
}

// NewService creates a chat stream service.
func NewService(engines *EngineHandle, options ServiceOptions) *Service {
	timeout := options.StreamTimeout
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engines:     engines,
		timeout:     timeout,
		checkpoints: options.Checkpoints,
		metrics:     options.Metrics,
		logger:      logger,
		activeRuns:  make(map[string]*runControl),

		terminalWrite: terminalWriteTimeout,
	}
}

// IsThreadBusy reports whether err indicates a thread concurrency conflict.
func IsThreadBusy(err error) bool {
	return errors.Is(err, ErrThreadBusy)
}

// Engines exposes the engine handle for health reporting.
func (s *Service) Engines() *EngineHandle {
	return s.engines
}

// Timeout returns the configured stream deadline.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// Prepare resolves the thread, builds the turn input and reserves the thread.
// It fails with an *EngineUnavailableError when the engine never initialized
// and with ErrThreadBusy when the thread is already streaming.
func (s *Service) Prepare(req ChatRequest) (*Run, error) {
	engine, err := s.engines.Engine()
	if err != nil {
		return nil, err
	}

	threadID := req.ThreadID
	if threadID == "" || threadID == DefaultThreadID {
		threadID = uuid.NewString()
	}
	runID := uuid.NewString()

	control, err := s.registerRun(threadID, runID)
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:       runID,
		ThreadID: threadID,
		Input:    BuildTurnInput(req),
		Config:   BuildRunConfig(threadID, req),
		engine:   engine,
		control:  control,
		service:  s,
	}, nil
}

// Stream executes run and writes its frames to out. At most one terminal
// error frame follows the session's events; cancellation writes nothing more.
func (s *Service) Stream(ctx context.Context, run *Run, out FrameWriter) Outcome {
	defer run.Release()

	started := time.Now()
	s.metrics.StreamStarted()
	logger := s.logger.With("thread_id", run.ThreadID, "run_id", run.ID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	run.control.bind(cancel)
	defer func() {
		if err := out.SetWriteDeadline(time.Time{}); err != nil {
			logger.Debug("write deadline not cleared", "error", err)
		}
	}()

	emit := func(ev WireEvent) error {
		frame, err := EncodeSSE(ev)
		if err != nil {
			return err
		}
		if err := out.WriteFrame(frame); err != nil {
			return fmt.Errorf("%w: %v", ErrConsumerGone, err)
		}
		s.metrics.EventEmitted(string(ev.Type))
		if ev.Type == EventInterrupt {
			s.savePending(runCtx, logger, ev)
		}
		return nil
	}

	outcome := s.supervise(runCtx, run, logger, out, emit)

	if terminal, ok := s.terminalEvent(run.ThreadID, outcome); ok {
		frame, err := EncodeSSE(terminal)
		if err == nil {
			err = out.SetWriteDeadline(time.Now().Add(s.terminalWrite))
		}
		if err == nil {
			err = out.WriteFrame(frame)
		}
		if err != nil {
			logger.Debug("terminal event not delivered", "error", err)
		} else {
			s.metrics.EventEmitted(string(terminal.Type))
		}
	}

	elapsed := time.Since(started)
	s.metrics.StreamFinished(outcome.Kind.String(), elapsed)
	s.logOutcome(logger, outcome, elapsed)
	return outcome
}

// supervise runs the session under the stream deadline. The same deadline
// bounds frame writes. A cancellation caused by the deadline, and not by the
// caller, is reported as a timeout.
func (s *Service) supervise(ctx context.Context, run *Run, logger *slog.Logger, out FrameWriter, emit Emitter) Outcome {
	deadlineCtx, cancel := context.WithTimeoutCause(ctx, s.timeout, errStreamTimeout)
	defer cancel()
	deadline, _ := deadlineCtx.Deadline()
	if err := out.SetWriteDeadline(deadline); err != nil {
		logger.Warn("write deadline not applied", "error", err)
	}

	session := NewSession(run.engine, run.ThreadID, run.Input, run.Config, logger)
	if _, resuming := run.Input.(ResumeInput); resuming {
		session.OnOpen(func() { s.clearPending(ctx, logger, run.ThreadID) })
	}
	outcome := session.Run(deadlineCtx, emit)

	if outcome.Kind == OutcomeCancelled && ctx.Err() == nil && deadlinePassed(deadlineCtx, deadline) {
		outcome = Outcome{Kind: OutcomeTimedOut, Err: errStreamTimeout, Events: outcome.Events}
	}
	return outcome
}

// deadlinePassed also covers a write that failed on its deadline just before
// the context timer fired.
func deadlinePassed(ctx context.Context, deadline time.Time) bool {
	return errors.Is(context.Cause(ctx), errStreamTimeout) || !time.Now().Before(deadline)
}

func (s *Service) terminalEvent(threadID string, outcome Outcome) (WireEvent, bool) {
	switch outcome.Kind {
	case OutcomeSetupFailed:
		return ErrorWireEvent(threadID, "Workflow error: "+errorText(outcome.Err)), true
	case OutcomeProcessingFailed:
		return ErrorWireEvent(threadID, errorText(outcome.Err)), true
	case OutcomeTimedOut:
		return ErrorWireEvent(threadID, "Request timeout after "+formatTimeout(s.timeout)), true
	default:
		return WireEvent{}, false
	}
}

func (s *Service) logOutcome(logger *slog.Logger, outcome Outcome, elapsed time.Duration) {
	attrs := []any{"outcome", outcome.Kind.String(), "events", outcome.Events, "duration", elapsed}
	switch outcome.Kind {
	case OutcomeCompleted:
		logger.Info("stream completed", attrs...)
	case OutcomeCancelled:
		logger.Info("stream cancelled", attrs...)
	case OutcomeTimedOut:
		logger.Warn("stream timed out", append(attrs, "timeout", s.timeout)...)
	default:
		logger.Error("stream failed", append(attrs, "error", outcome.Err)...)
	}
}

// StopRun cancels the running stream of threadID. The stream ends silently.
func (s *Service) StopRun(threadID string) error {
	s.mu.Lock()
	control, ok := s.activeRuns[threadID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveRun, threadID)
	}
	control.stop()
	return nil
}

// ActiveStreams returns the number of reserved threads.
func (s *Service) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeRuns)
}

// PendingInterrupt returns the interrupt a thread is paused at.
func (s *Service) PendingInterrupt(ctx context.Context, threadID string) (*checkpoint.Pending, error) {
	if s.checkpoints == nil {
		return nil, checkpoint.ErrNotFound
	}
	return s.checkpoints.Pending(ctx, threadID)
}

func (s *Service) registerRun(threadID, runID string) (*runControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active, ok := s.activeRuns[threadID]; ok {
		return nil, fmt.Errorf("%w: thread_id %q is busy (run_id %s)", ErrThreadBusy, threadID, active.runID)
	}
	control := &runControl{runID: runID}
	s.activeRuns[threadID] = control
	return control, nil
}

func (s *Service) unregisterRun(threadID, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active, ok := s.activeRuns[threadID]; ok && active.runID == runID {
		delete(s.activeRuns, threadID)
	}
}

func (s *Service) savePending(ctx context.Context, logger *slog.Logger, ev WireEvent) {
	if s.checkpoints == nil {
		return
	}
	content, err := json.Marshal(ev.Content)
	if err != nil {
		logger.Warn("pending interrupt not recorded", "error", err)
		return
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointOpTimeout)
	defer cancel()
	err = s.checkpoints.SavePending(opCtx, checkpoint.Pending{
		ThreadID:    ev.ThreadID,
		InterruptID: ev.ID,
		Content:     content,
	})
	if err != nil {
		logger.Warn("pending interrupt not recorded", "interrupt_id", ev.ID, "error", err)
	}
}

func (s *Service) clearPending(ctx context.Context, logger *slog.Logger, threadID string) {
	if s.checkpoints == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointOpTimeout)
	defer cancel()
	if err := s.checkpoints.ClearPending(opCtx, threadID); err != nil {
		logger.Warn("pending interrupt not cleared", "error", err)
	}
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// formatTimeout renders whole-second deadlines as "N seconds" and anything
// finer with time.Duration formatting.
func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int64(d/time.Second))
	}
	return d.String()
}
