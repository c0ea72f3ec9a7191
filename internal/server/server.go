// Package server implements the Vigil HTTP API server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vigil-systems/vigil/internal/engine"
	"github.com/vigil-systems/vigil/internal/registry"
)

// Server is the Vigil HTTP API server. It exposes the metric snapshot in
// text exposition format, rule state inspection, and rule reload.
type Server struct {
	registry  *registry.Registry
	engine    *engine.Engine
	ruleFiles []string
	logger    *slog.Logger
	router    chi.Router
	addr      string
	srv       *http.Server

	httpRequests *registry.Family
}

// New creates a new HTTP server. ruleFiles are the glob patterns re-read
// on each reload request.
func New(addr string, reg *registry.Registry, eng *engine.Engine, ruleFiles []string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry:  reg,
		engine:    eng,
		ruleFiles: ruleFiles,
		logger:    logger,
		addr:      addr,
	}

	httpRequests, err := reg.Register("vigil_http_requests_total", registry.KindCounter, "path", "code")
	if err != nil {
		return nil, err
	}
	s.httpRequests = httpRequests

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	s.router = r
	s.registerRoutes(r)
	return s, nil
}

// Start begins serving HTTP requests. It blocks until the listener fails
// or the server is stopped.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("http server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
