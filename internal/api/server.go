// Package api serves the copilot over HTTP: the chat and confirmation
// endpoints, task inspection, the tool listing, and the websocket
// task-progress stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaydesk/copilot/internal/orchestrator"
	"github.com/relaydesk/copilot/internal/security"
	"github.com/relaydesk/copilot/internal/taskflow"
	"github.com/relaydesk/copilot/internal/tools"
)

// Server is the HTTP API server.
type Server struct {
	addr       string
	jwtSecret  []byte
	origins    []string
	orch       *orchestrator.Orchestrator
	registry   *tools.Registry
	engine     *taskflow.Engine
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the API server. A nil jwtSecret disables auth (dev
// mode); setup warns about that once.
func NewServer(addr string, jwtSecret []byte, origins []string, orch *orchestrator.Orchestrator, registry *tools.Registry, engine *taskflow.Engine, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		jwtSecret: jwtSecret,
		origins:   origins,
		orch:      orch,
		registry:  registry,
		engine:    engine,
		logger:    logger.With("component", "api"),
	}
}

// Handler builds the full route tree with middleware applied. Exposed so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	authed := http.NewServeMux()
	authed.HandleFunc("/api/chat", s.handleChat)
	authed.HandleFunc("/api/chat/confirm", s.handleConfirm)
	authed.HandleFunc("/api/tasks", s.handleTasks)
	authed.HandleFunc("/api/tools", s.handleTools)

	mux := http.NewServeMux()
	mux.Handle("/api/", security.AuthMiddleware(s.jwtSecret)(authed))
	// The websocket handshake cannot carry an Authorization header from a
	// browser; the handler validates a token query parameter itself.
	mux.HandleFunc("/api/tasks/watch", s.handleTaskWatch)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the server until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("api server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs each request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware reflects the request origin when it is on the allowed
// list. A lone "*" allows everything.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, o := range s.origins {
		if o == "*" {
			return "*"
		}
		if o == origin {
			return origin
		}
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes a JSON response with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, format string, args ...any) {
	s.respondJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
