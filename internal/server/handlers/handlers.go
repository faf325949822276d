// Package handlers implements HTTP request handlers for the Gridshift
// operational API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gridshift-io/gridshift/internal/engine"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/internal/valve"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	store  store.Store
	engine *engine.Manager
	valve  *valve.Valve
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(st store.Store, eng *engine.Manager, v *valve.Valve) *Handlers {
	return &Handlers{
		store:  st,
		engine: eng,
		valve:  v,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
