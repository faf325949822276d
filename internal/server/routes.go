package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"

	"github.com/gridshift-io/gridshift/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.store, s.engine, s.valve)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
	})

	r.Get("/debug/vars", expvar.Handler().ServeHTTP)
}
