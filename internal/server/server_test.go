package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshift-io/gridshift/internal/engine"
	"github.com/gridshift-io/gridshift/internal/testutil"
	"github.com/gridshift-io/gridshift/internal/valve"
	"github.com/gridshift-io/gridshift/pkg/types"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *testutil.MockStore) {
	t.Helper()
	st := testutil.NewMockStore()
	mgr := engine.NewManager(engine.Options{Registry: engine.BuiltinRegistry()})
	require.NoError(t, mgr.Load(context.Background(), engine.RulesEngineName, false))
	v := valve.New(valve.Options{Store: st})
	return New(":0", apiKey, st, mgr, v), st
}

func TestHealthOK(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthDegradedOnStoreFailure(t *testing.T) {
	s, st := newTestServer(t, "")
	st.SetPingError(assert.AnError)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestStatusReportsEngineAndFleet(t *testing.T) {
	s, st := newTestServer(t, "")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateAgent(context.Background(), types.AgentRecord{
		AgentID: "agt_1", ClientID: "acme", LogicalAgentID: "farm-1",
		InstanceID: "i-1", Status: types.AgentOnline, Enabled: true, CreatedAt: now,
	}))
	require.NoError(t, st.CreateAgent(context.Background(), types.AgentRecord{
		AgentID: "agt_2", ClientID: "acme", LogicalAgentID: "farm-2",
		InstanceID: "i-2", Status: types.AgentDegraded, Enabled: true, CreatedAt: now,
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Engine *struct {
			Type   string             `json:"engineType"`
			Status types.EngineStatus `json:"status"`
		} `json:"engine"`
		EngineHistory []types.EngineRegistration `json:"engineHistory"`
		Fleet         struct {
			Total    int `json:"total"`
			Online   int `json:"online"`
			Degraded int `json:"degraded"`
		} `json:"fleet"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Engine)
	assert.Equal(t, engine.RulesEngineName, body.Engine.Type)
	assert.Equal(t, types.EngineActive, body.Engine.Status)
	assert.NotEmpty(t, body.EngineHistory)
	assert.Equal(t, 2, body.Fleet.Total)
	assert.Equal(t, 1, body.Fleet.Online)
	assert.Equal(t, 1, body.Fleet.Degraded)
}

func TestDebugVarsExposed(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prices_accepted")
}

func TestAPIKeyMiddleware(t *testing.T) {
	s, _ := newTestServer(t, "sekret")

	// Health stays open for probes.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Status without a key is rejected.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct key passes.
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "sekret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	s, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
