package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"research-gateway/internal/agent"
	"research-gateway/internal/checkpoint"
)

const threadIDHeader = "X-Thread-ID"

// StopRunRequest is the request body for stopping a stream.
type StopRunRequest struct {
	ThreadID string `json:"thread_id"`
}

// sseWriter writes SSE frames and flushes each one. Write deadlines go to
// the underlying connection, so a client that stops reading fails the write
// instead of blocking it.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) WriteFrame(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

// SetWriteDeadline is a no-op for writers without a connection, such as
// httptest.ResponseRecorder.
func (s *sseWriter) SetWriteDeadline(t time.Time) error {
	if err := s.rc.SetWriteDeadline(t); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// handleChatStream runs one chat turn and streams its events as SSE.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req := agent.DefaultChatRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.agent.Prepare(req)
	if err != nil {
		writePrepareError(w, err, initErrorText(s.agent))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		run.Release()
		writeDetail(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(threadIDHeader, run.ThreadID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.agent.Stream(r.Context(), run, newSSEWriter(w))
}

// handleChatStop cancels the active stream of a thread.
func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	var req StopRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ThreadID == "" {
		writeDetail(w, http.StatusBadRequest, "Thread ID is required")
		return
	}

	if err := s.agent.StopRun(req.ThreadID); err != nil {
		if errors.Is(err, agent.ErrNoActiveRun) {
			writeDetail(w, http.StatusNotFound, "No active stream for thread")
			return
		}
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeStopped(w, req.ThreadID)
}

// handleThreadInterrupt returns the interrupt a thread is paused at.
func (s *Server) handleThreadInterrupt(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	if threadID == "" {
		writeDetail(w, http.StatusBadRequest, "Thread ID is required")
		return
	}

	pending, err := s.agent.PendingInterrupt(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "No pending interrupt for thread")
			return
		}
		s.logger.Error("pending interrupt lookup failed", "thread_id", threadID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to load pending interrupt")
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func initErrorText(service *agent.Service) string {
	if err := service.Engines().InitError(); err != nil {
		return err.Error()
	}
	return "unknown error"
}
