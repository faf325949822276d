package handlers

import (
	"net/http"

	"github.com/gridshift-io/gridshift/pkg/types"
)

type engineStatus struct {
	Type    string             `json:"engineType"`
	Version string             `json:"version"`
	Status  types.EngineStatus `json:"status"`
}

type fleetStatus struct {
	Total      int `json:"total"`
	Online     int `json:"online"`
	Degraded   int `json:"degraded"`
	Offline    int `json:"offline"`
	Terminated int `json:"terminated"`
}

type statusResponse struct {
	Engine        *engineStatus              `json:"engine,omitempty"`
	EngineHistory []types.EngineRegistration `json:"engineHistory,omitempty"`
	Fleet         fleetStatus                `json:"fleet"`
	CacheEntries  int                        `json:"cacheEntries"`
}

// Status reports the active decision engine, its load history, a fleet
// summary, and price cache occupancy.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}

	if typ, version, status, ok := h.engine.Active(); ok {
		resp.Engine = &engineStatus{Type: typ, Version: version, Status: status}
	}
	resp.EngineHistory = h.engine.History()

	agents, err := h.store.ListAgents(r.Context(), false)
	if err != nil {
		h.logger.Error("status: listing agents failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list agents"})
		return
	}
	for _, agent := range agents {
		resp.Fleet.Total++
		switch agent.Status {
		case types.AgentOnline:
			resp.Fleet.Online++
		case types.AgentDegraded:
			resp.Fleet.Degraded++
		case types.AgentOffline:
			resp.Fleet.Offline++
		case types.AgentTerminated:
			resp.Fleet.Terminated++
		}
	}

	if h.valve != nil {
		resp.CacheEntries = h.valve.CacheLen()
	}

	h.writeJSON(w, http.StatusOK, resp)
}
