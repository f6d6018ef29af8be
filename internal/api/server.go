// Package api exposes the read-only station status surface: health
// probes, metrics, the decoded schedule, and a scheduler snapshot.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prismspecs/open-weather-ags/internal/auth"
	"github.com/prismspecs/open-weather-ags/internal/health"
	"github.com/prismspecs/open-weather-ags/internal/metrics"
	"github.com/prismspecs/open-weather-ags/internal/passes"
	"github.com/prismspecs/open-weather-ags/internal/schedule"
	"github.com/prismspecs/open-weather-ags/internal/tle"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, store *schedule.Store, sched *schedule.Scheduler, elements *tle.Store) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/passes", passesHandler(store, logger))
	mux.HandleFunc("GET /api/v1/status", statusHandler(sched, elements))

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// passesHandler serves the persisted schedule. The store is re-read on
// every request so the response always reflects the canonical file.
func passesHandler(store *schedule.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := store.Load()
		if err != nil {
			logger.Error("schedule load failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "schedule unavailable"})
			return
		}
		if ps == nil {
			ps = []passes.Pass{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ps)
	}
}

func statusHandler(sched *schedule.Scheduler, elements *tle.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type status struct {
			Scheduler      schedule.Status `json:"scheduler"`
			ElementsAgeSec float64         `json:"elements_age_seconds"`
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status{
			Scheduler:      sched.Snapshot(),
			ElementsAgeSec: elements.AgeSeconds(),
		})
	}
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
