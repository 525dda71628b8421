package agent

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// scriptedEngine replays a fixed list of raw events. After the script it
// returns failErr if set, blocks if hang is set, and otherwise io.EOF.
type scriptedEngine struct {
	events   []RawEvent
	setupErr error
	failErr  error
	// endless keeps producing assistant chunks after the script.
	endless bool
	// hang blocks Next after the script until ctx is done.
	hang bool
	// ignoreCtx makes a hanging Next wait for release instead of ctx.
	ignoreCtx bool
	release   chan struct{}

	nextCalls  atomic.Int64
	closeCalls atomic.Int64

	mu        sync.Mutex
	gotInput  TurnInput
	gotConfig RunConfig
}

func (e *scriptedEngine) Stream(_ context.Context, input TurnInput, cfg RunConfig) (EventStream, error) {
	e.mu.Lock()
	e.gotInput = input
	e.gotConfig = cfg
	e.mu.Unlock()
	if e.setupErr != nil {
		return nil, e.setupErr
	}
	return &scriptedStream{engine: e}, nil
}

func (e *scriptedEngine) input() TurnInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gotInput
}

type scriptedStream struct {
	engine *scriptedEngine
	pos    int
}

func (s *scriptedStream) Next(ctx context.Context) (RawEvent, error) {
	e := s.engine
	e.nextCalls.Add(1)
	if s.pos < len(e.events) {
		event := e.events[s.pos]
		s.pos++
		return event, nil
	}
	switch {
	case e.failErr != nil:
		return RawEvent{}, e.failErr
	case e.endless:
		s.pos++
		return NewAssistantChunk([]string{"reporter:1"}, MessageFragment{ID: "run-endless", Content: "."}), nil
	case e.hang && e.ignoreCtx:
		<-e.release
		return RawEvent{}, io.EOF
	case e.hang:
		<-ctx.Done()
		return RawEvent{}, ctx.Err()
	default:
		return RawEvent{}, io.EOF
	}
}

func (s *scriptedStream) Close() error {
	s.engine.closeCalls.Add(1)
	return nil
}

// recordingWriter collects frames; failAfter > 0 fails every write after
// that many successful ones.
type recordingWriter struct {
	mu        sync.Mutex
	frames    []string
	failAfter int
	failErr   error
	deadlines []time.Time
}

func (w *recordingWriter) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter > 0 && len(w.frames) >= w.failAfter {
		return w.failErr
	}
	w.frames = append(w.frames, string(frame))
	return nil
}

func (w *recordingWriter) SetWriteDeadline(t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deadlines = append(w.deadlines, t)
	return nil
}

func (w *recordingWriter) writeDeadlines() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Time(nil), w.deadlines...)
}

func (w *recordingWriter) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.frames))
	copy(out, w.frames)
	return out
}

// stalledWriter accepts the first `accept` frames, then blocks every write
// until its write deadline passes, like a connection whose reader stopped
// reading. Without a deadline it blocks until release is closed.
type stalledWriter struct {
	accept  int
	release chan struct{}

	mu       sync.Mutex
	writes   int
	deadline time.Time
}

func (w *stalledWriter) WriteFrame([]byte) error {
	w.mu.Lock()
	w.writes++
	n, deadline := w.writes, w.deadline
	w.mu.Unlock()
	if n <= w.accept {
		return nil
	}
	if deadline.IsZero() {
		<-w.release
		return io.ErrClosedPipe
	}
	select {
	case <-time.After(time.Until(deadline)):
	case <-w.release:
	}
	return os.ErrDeadlineExceeded
}

func (w *stalledWriter) SetWriteDeadline(t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deadline = t
	return nil
}

func (w *stalledWriter) currentDeadline() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline
}

func chunk(path, id, content string) RawEvent {
	return NewAssistantChunk([]string{path}, MessageFragment{ID: id, Content: content})
}
