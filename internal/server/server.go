// Package server implements the Gridshift operational HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gridshift-io/gridshift/internal/engine"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/internal/valve"
)

// Server is the Gridshift operational HTTP server. It exposes health and
// status endpoints plus expvar counters; the agent-facing surface lives
// elsewhere.
type Server struct {
	store  store.Store
	engine *engine.Manager
	valve  *valve.Valve
	router chi.Router
	addr   string
	apiKey string
	srv    *http.Server
}

// New creates a new HTTP server.
func New(addr, apiKey string, st store.Store, eng *engine.Manager, v *valve.Valve) *Server {
	s := &Server{
		store:  st,
		engine: eng,
		valve:  v,
		addr:   addr,
		apiKey: apiKey,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(APIKeyMiddleware(apiKey))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler returns the configured router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	fmt.Printf("Gridshift server listening on %s\n", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
