// Package api provides the read-only HTTP API over engagement state:
// per-user streaks and badges, batch run records, health and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/health"
	"github.com/tutu-network/streakd/internal/infra/cache"
)

// Version is reported by /v1/version.
const Version = "0.1.0"

// Server is the streakd HTTP API server.
type Server struct {
	store          domain.Store
	cache          cache.Cache
	ttl            time.Duration
	health         *health.Checker
	metricsEnabled bool
	log            *zap.Logger
}

// NewServer creates an API server reading from store. Per-user reads go
// through c for ttl; a nil cache reads the store directly.
func NewServer(store domain.Store, c cache.Cache, ttl time.Duration) *Server {
	return &Server{store: store, cache: c, ttl: ttl, log: zap.NewNop()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth reports checker results on /health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetLogger sets the request error logger.
func (s *Server) SetLogger(log *zap.Logger) {
	if log != nil {
		s.log = log
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})
		r.Get("/badges", s.handleCatalog)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/streak", s.handleStreak)
			r.Get("/badges", s.handleBadges)
		})
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/latest", s.handleLatestRun)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    http.StatusText(status),
		},
	})
}
