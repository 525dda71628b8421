package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"research-gateway/internal/agent"
	"research-gateway/internal/checkpoint"
	"research-gateway/internal/config"
	"research-gateway/internal/logging"
	"research-gateway/internal/metrics"
)

type stubEngine struct {
	events []agent.RawEvent
	hang   bool
}

func (e *stubEngine) Stream(_ context.Context, _ agent.TurnInput, _ agent.RunConfig) (agent.EventStream, error) {
	return &stubStream{events: e.events, hang: e.hang}, nil
}

type stubStream struct {
	events []agent.RawEvent
	hang   bool
}

func (s *stubStream) Next(ctx context.Context) (agent.RawEvent, error) {
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		return ev, nil
	}
	if s.hang {
		<-ctx.Done()
		return agent.RawEvent{}, ctx.Err()
	}
	return agent.RawEvent{}, io.EOF
}

func (s *stubStream) Close() error { return nil }

type testEnv struct {
	server  *Server
	router  http.Handler
	service *agent.Service
	store   *checkpoint.MemoryStore
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, engine agent.Engine, initErr error) *testEnv {
	t.Helper()
	handle := agent.InitEngine(context.Background(), func(context.Context) (agent.Engine, error) {
		if initErr != nil {
			return nil, initErr
		}
		return engine, nil
	})
	store := checkpoint.NewMemoryStore(0)
	m := metrics.New()
	logger := logging.NewNop()
	service := agent.NewService(handle, agent.ServiceOptions{
		StreamTimeout: time.Minute,
		Checkpoints:   store,
		Metrics:       m,
		Logger:        logger,
	})
	cfg := &config.Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	srv := NewServer(cfg, service, m, logger)
	return &testEnv{server: srv, router: NewRouter(srv), service: service, store: store, metrics: m}
}

func planningScript() []agent.RawEvent {
	return []agent.RawEvent{
		agent.NewAssistantChunk([]string{"planner:1"}, agent.MessageFragment{ID: "run-1", Content: "Drafting a plan"}),
		agent.NewInterruptEvent(nil, "human_feedback:1", "Please review the plan."),
	}
}

type sseFrame struct {
	event string
	data  map[string]any
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var current sseFrame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data); err != nil {
				t.Fatalf("invalid data line %q: %v", line, err)
			}
		case line == "":
			frames = append(frames, current)
			current = sseFrame{}
		}
	}
	return frames
}

func TestChatStreamWritesSSE(t *testing.T) {
	env := newTestEnv(t, &stubEngine{events: planningScript()}, nil)

	for _, path := range []string{"/api/chat/stream", "/chat/stream"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"messages":[{"role":"user","content":"Research Go"}]}`))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
			t.Fatalf("%s: unexpected content type %q", path, ct)
		}
		if rec.Header().Get("Cache-Control") != "no-cache" || rec.Header().Get("X-Accel-Buffering") != "no" {
			t.Fatalf("%s: missing streaming headers: %v", path, rec.Header())
		}
		threadID := rec.Header().Get("X-Thread-ID")
		if threadID == "" || threadID == agent.DefaultThreadID {
			t.Fatalf("%s: expected generated thread id, got %q", path, threadID)
		}

		frames := parseSSE(t, rec.Body.String())
		if len(frames) != 2 || frames[0].event != "message_chunk" || frames[1].event != "interrupt" {
			t.Fatalf("%s: unexpected frames %+v", path, frames)
		}
		if frames[0].data["agent"] != "planner" || frames[0].data["thread_id"] != threadID {
			t.Fatalf("%s: unexpected chunk payload %v", path, frames[0].data)
		}
	}
}

func TestChatStreamRecordsPendingInterrupt(t *testing.T) {
	env := newTestEnv(t, &stubEngine{events: planningScript()}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"thread_id":"thread-9","messages":[]}`))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/thread-9/interrupt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var pending checkpoint.Pending
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if pending.InterruptID != "human_feedback:1" || string(pending.Content) != `"Please review the plan."` {
		t.Fatalf("unexpected pending interrupt %+v", pending)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/unknown/interrupt", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestChatStreamEngineUnavailable(t *testing.T) {
	env := newTestEnv(t, nil, errors.New("dial tcp 127.0.0.1:8001: connection refused"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(body.Detail, "Graph initialization failed") || !strings.Contains(body.Detail, "connection refused") {
		t.Fatalf("unexpected detail %q", body.Detail)
	}
}

func TestChatStreamRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, &stubEngine{}, nil)

	for _, body := range []string{`{`, `{"max_step_num":0}`, `{"max_plan_iterations":-1}`} {
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestChatStreamRejectsBusyThread(t *testing.T) {
	env := newTestEnv(t, &stubEngine{}, nil)

	req := agent.DefaultChatRequest()
	req.ThreadID = "thread-busy"
	run, err := env.service.Prepare(req)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	defer run.Release()

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"thread_id":"thread-busy"}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestChatStopCancelsActiveStream(t *testing.T) {
	env := newTestEnv(t, &stubEngine{events: planningScript()[:1], hang: true}, nil)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat/stream", "application/json", strings.NewReader(`{"thread_id":"thread-live"}`))
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	var first strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read first frame: %v", err)
		}
		first.WriteString(line)
		if line == "\n" {
			break
		}
	}
	if frames := parseSSE(t, first.String()); len(frames) != 1 || frames[0].event != "message_chunk" {
		t.Fatalf("unexpected first frame %q", first.String())
	}

	stop, err := http.Post(ts.URL+"/api/chat/stop", "application/json", strings.NewReader(`{"thread_id":"thread-live"}`))
	if err != nil {
		t.Fatalf("stop request failed: %v", err)
	}
	defer stop.Body.Close()
	if stop.StatusCode != http.StatusOK {
		t.Fatalf("expected stop 200, got %d", stop.StatusCode)
	}
	var stopped StopResponse
	if err := json.NewDecoder(stop.Body).Decode(&stopped); err != nil {
		t.Fatalf("decode stop response: %v", err)
	}
	if !stopped.Stopped || stopped.ThreadID != "thread-live" {
		t.Fatalf("unexpected stop response %+v", stopped)
	}

	rest, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no frames after stop, got %q", rest)
	}
}

func TestChatStopValidation(t *testing.T) {
	env := newTestEnv(t, &stubEngine{}, nil)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stop", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stop", strings.NewReader(`{"thread_id":"idle"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSSEWriterFailsPastWriteDeadline(t *testing.T) {
	result := make(chan error, 1)
	handler := LoggingMiddleware(logging.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := newSSEWriter(w)
		if err := sw.WriteFrame([]byte("event: message_chunk\ndata: {}\n\n")); err != nil {
			result <- err
			return
		}
		if err := sw.SetWriteDeadline(time.Now().Add(-time.Second)); err != nil {
			result <- err
			return
		}
		err := sw.WriteFrame([]byte("event: message_chunk\ndata: {}\n\n"))
		if err == nil {
			err = errors.New("write succeeded past its deadline")
		} else {
			err = nil
		}
		result <- err
	}))
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	select {
	case err := <-result:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish")
	}
}

func TestSSEWriterIgnoresDeadlineOnRecorder(t *testing.T) {
	sw := newSSEWriter(httptest.NewRecorder())
	if err := sw.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("expected recorder deadline to be ignored, got %v", err)
	}
	if err := sw.WriteFrame([]byte("event: error\ndata: {}\n\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
