package api

import "net/http"

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	GraphInitialized bool   `json:"graph_initialized"`
	GraphError       string `json:"graph_error,omitempty"`
	Note             string `json:"note,omitempty"`
	ActiveStreams    int    `json:"active_streams"`
}

// handleHealth always answers 200; engine state is reported in the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:           "healthy",
		Service:          serviceName,
		GraphInitialized: s.agent.Engines().Ready(),
		ActiveStreams:    s.agent.ActiveStreams(),
	}
	if !resp.GraphInitialized {
		resp.GraphError = initErrorText(s.agent)
		resp.Note = "Chat streaming is unavailable until the workflow engine initializes; restart the service once it is reachable."
	}
	writeJSON(w, http.StatusOK, resp)
}
