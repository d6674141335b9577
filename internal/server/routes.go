package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /audiobooks", h.CreateAudiobook)
	mux.HandleFunc("GET /audiobooks", h.ListAudiobooks)
	mux.HandleFunc("GET /audiobooks/{id}", h.GetAudiobook)
	mux.HandleFunc("DELETE /audiobooks/{id}", h.CancelAudiobook)
	mux.HandleFunc("GET /audiobooks/{id}/file", h.DownloadAudiobook)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		MetricsMiddleware(),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
