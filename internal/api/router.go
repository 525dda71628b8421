package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"research-gateway/internal/agent"
	"research-gateway/internal/config"
	"research-gateway/internal/metrics"
)

const serviceName = "research-gateway"

// Server holds all dependencies for the HTTP server.
type Server struct {
	config  *config.Config
	agent   *agent.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewServer creates a new server with all dependencies. m may be nil when
// metrics are disabled.
func NewServer(cfg *config.Config, service *agent.Service, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  cfg,
		agent:   service,
		metrics: m,
		logger:  logger,
	}
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(RequestIDMiddleware)
	r.Use(RecovererMiddleware(srv.logger))
	r.Use(LoggingMiddleware(srv.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(srv.config),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader, threadIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Chat stream routes
	r.Post("/chat/stream", srv.handleChatStream)
	r.Post("/api/chat/stream", srv.handleChatStream)
	r.Post("/api/chat/stop", srv.handleChatStop)
	r.Get("/api/threads/{thread_id}/interrupt", srv.handleThreadInterrupt)

	r.Get("/api/health", srv.handleHealth)
	if srv.metrics != nil {
		r.Method(http.MethodGet, "/metrics", srv.metrics.Handler())
	}

	return r
}

// allowedOrigins opens CORS fully outside production.
func allowedOrigins(cfg *config.Config) []string {
	if cfg == nil || !cfg.IsProduction() {
		return []string{"*"}
	}
	origins := []string{
		"https://*.vercel.app",
		"https://deerflow.tech",
		"https://www.deerflow.tech",
	}
	if cfg.FrontendURL != "" {
		origins = append(origins, cfg.FrontendURL)
	}
	return origins
}
