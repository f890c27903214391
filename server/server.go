// Package server exposes the engine over HTTP: the cron tick endpoint,
// queue introspection and scheduled-job management.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/config"
	"github.com/ronittamrakar/Xordon-sub048/engine"
	"github.com/ronittamrakar/Xordon-sub048/handler"
	"github.com/ronittamrakar/Xordon-sub048/queue"
	"github.com/ronittamrakar/Xordon-sub048/schedule"
)

// Server is the HTTP API for the automation engine.
type Server struct {
	cfg        config.ServerConfig
	dispatcher *engine.Dispatcher
	registry   *handler.Registry
	schedules  *schedule.Store
	queue      *queue.Store
	logger     *zap.SugaredLogger

	mux  *http.ServeMux
	http *http.Server
}

// New creates the API server and registers its routes.
func New(cfg config.ServerConfig, dispatcher *engine.Dispatcher, registry *handler.Registry, schedules *schedule.Store, q *queue.Store, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		registry:   registry,
		schedules:  schedules,
		queue:      q,
		logger:     log,
	}
	s.setupHTTPRoutes()
	return s
}

// setupHTTPRoutes configures all HTTP handlers
func (s *Server) setupHTTPRoutes() {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	s.mux.HandleFunc("/api/cron/tick", s.corsMiddleware(s.HandleCronTick)) // Run one dispatch cycle (POST, shared secret)
	s.mux.HandleFunc("/api/queue/stats", s.corsMiddleware(s.HandleQueueStats))
	s.mux.HandleFunc("/api/queue/jobs", s.corsMiddleware(s.HandleQueueJobs))
	s.mux.HandleFunc("/api/schedules", s.corsMiddleware(s.HandleSchedules)) // List/create schedules (GET/POST)
	s.mux.HandleFunc("/api/schedules/", s.corsMiddleware(s.HandleSchedule)) // Individual schedule (GET/PATCH/DELETE)
}

// Handler returns the route multiplexer, usable directly in tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on the configured port. It blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("HTTP API listening", "addr", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// corsMiddleware adds CORS headers using the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
