// Package api exposes the research gateway over HTTP: the SSE chat stream,
// stream control, pending interrupts, health and metrics.
package api

import (
	"encoding/json"
	"net/http"

	"research-gateway/internal/agent"
)

// ErrorResponse is the body of every non-2xx JSON reply. The single
// "detail" field keeps existing frontends working unchanged.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StopResponse confirms a stopped stream.
type StopResponse struct {
	ThreadID string `json:"thread_id"`
	Stopped  bool   `json:"stopped"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writePrepareError maps a failed stream reservation to its status code.
// An engine that never initialized is a 503 naming the init failure.
func writePrepareError(w http.ResponseWriter, err error, initError string) {
	switch {
	case agent.IsEngineUnavailable(err):
		writeDetail(w, http.StatusServiceUnavailable, "Service temporarily unavailable. Graph initialization failed: "+initError)
	case agent.IsThreadBusy(err):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		writeDetail(w, http.StatusBadRequest, err.Error())
	}
}

func writeStopped(w http.ResponseWriter, threadID string) {
	writeJSON(w, http.StatusOK, StopResponse{ThreadID: threadID, Stopped: true})
}
