package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// missingConfidenceEngine reports NaN confidence, the structural equivalent
// of omitting the key.
type missingConfidenceEngine struct{}

func (e *missingConfidenceEngine) Type() string    { return "broken-output" }
func (e *missingConfidenceEngine) Version() string { return "0.0.1" }
func (e *missingConfidenceEngine) Decide(context.Context, types.DecisionInput) (types.DecisionOutput, error) {
	return types.DecisionOutput{
		Decision:   types.DecisionStay,
		Confidence: math.NaN(),
		TargetMode: "current",
		Reasoning:  "confident, honest",
	}, nil
}

// flakyEngine survives the load-time smoke test, then panics on real calls.
type flakyEngine struct{ calls int }

func (e *flakyEngine) Type() string    { return "flaky" }
func (e *flakyEngine) Version() string { return "0.0.2" }
func (e *flakyEngine) Decide(_ context.Context, input types.DecisionInput) (types.DecisionOutput, error) {
	e.calls++
	if e.calls > 1 {
		panic("market data went sideways")
	}
	return types.DecisionOutput{
		Decision:   types.DecisionStay,
		Confidence: 0.9,
		TargetMode: input.CurrentMode,
		RiskScore:  0.1,
		Reasoning:  "smoke test pass",
	}, nil
}

// driftingEngine passes the smoke test, then starts emitting out-of-range
// confidence.
type driftingEngine struct{ calls int }

func (e *driftingEngine) Type() string    { return "drifting" }
func (e *driftingEngine) Version() string { return "0.0.3" }
func (e *driftingEngine) Decide(_ context.Context, input types.DecisionInput) (types.DecisionOutput, error) {
	e.calls++
	confidence := 0.9
	if e.calls > 1 {
		confidence = 7.5
	}
	return types.DecisionOutput{
		Decision:   types.DecisionStay,
		Confidence: confidence,
		TargetMode: input.CurrentMode,
		RiskScore:  0.1,
		Reasoning:  "always stay",
	}, nil
}

func testRegistry() *Registry {
	r := BuiltinRegistry()
	_ = r.Register("broken-output", func() (Engine, error) { return &missingConfidenceEngine{}, nil })
	_ = r.Register("flaky", func() (Engine, error) { return &flakyEngine{}, nil })
	_ = r.Register("drifting", func() (Engine, error) { return &driftingEngine{}, nil })
	return r
}

func validInput() types.DecisionInput {
	return types.DecisionInput{
		AgentID:             "agent-1",
		InstanceType:        "m5.large",
		Region:              "us-east-1",
		CurrentMode:         "spot",
		CurrentPoolID:       "m5.large/us-east-1a",
		SpotPrice:           0.035,
		OnDemandPrice:       0.096,
		PriceHistory7d:      []types.PriceSnapshot{{PoolID: "m5.large/us-east-1a", Price: 0.034, CapturedAt: time.Now()}},
		InterruptionHistory: []types.InterruptionSignal{},
	}
}

func TestLoadPromotesEngine(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	require.NoError(t, m.Load(context.Background(), CostModelEngineName, false))

	typ, version, status, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, CostModelEngineName, typ)
	assert.NotEmpty(t, version)
	assert.Equal(t, types.EngineActive, status)
}

func TestLoadNoOpWhenAlreadyActive(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	require.NoError(t, m.Load(context.Background(), RulesEngineName, false))
	require.NoError(t, m.Load(context.Background(), RulesEngineName, false))
	assert.Len(t, m.History(), 1, "repeat load without force is a no-op")

	require.NoError(t, m.Load(context.Background(), RulesEngineName, true))
	assert.Len(t, m.History(), 2)
}

func TestLoadRejectsNonConformingOutput(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	err := m.Load(context.Background(), "broken-output", false)
	require.Error(t, err)

	typ, _, status, ok := m.Active()
	require.True(t, ok, "fallback must take over")
	assert.Equal(t, RulesEngineName, typ)
	assert.Equal(t, types.EngineActiveFallback, status)

	hist := m.History()
	require.Len(t, hist, 2)
	assert.Equal(t, RulesEngineName, hist[0].EngineType)
	assert.Equal(t, "broken-output", hist[1].EngineType)
	assert.Equal(t, types.EngineUnloaded, hist[1].Status)
}

func TestLoadRejectionLeavesActiveUntouched(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	require.NoError(t, m.Load(context.Background(), CostModelEngineName, false))

	err := m.Load(context.Background(), "broken-output", false)
	require.Error(t, err)

	// The fallback path promoted rules; the point is broken-output never ran.
	typ, _, _, ok := m.Active()
	require.True(t, ok)
	assert.NotEqual(t, "broken-output", typ)
}

func TestLoadUnknownEngine(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	err := m.Load(context.Background(), "does-not-exist", false)
	require.Error(t, err)

	typ, _, status, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, RulesEngineName, typ)
	assert.Equal(t, types.EngineActiveFallback, status)
}

func TestNoEngineActiveUsesSafeDefault(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})

	out, err := m.Decide(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, types.DecisionStay, out.Decision)
	assert.Zero(t, out.Confidence)
	assert.Equal(t, 0.5, out.RiskScore)
}

func TestDecideContractViolationOnMissingInput(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	require.NoError(t, m.Load(context.Background(), RulesEngineName, false))

	input := validInput()
	input.Region = ""
	_, err := m.Decide(context.Background(), input)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContractViolation))
}

func TestDecidePanicYieldsSafeDefault(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	require.NoError(t, m.Load(context.Background(), "flaky", false))

	out, err := m.Decide(context.Background(), validInput())
	require.NoError(t, err, "a misbehaving engine must never crash the caller")
	assert.Equal(t, types.DecisionStay, out.Decision)
	assert.Zero(t, out.Confidence)
	assert.Equal(t, "engine error", out.Reasoning)
}

func TestDecideBadRealOutputSubstituted(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	require.NoError(t, m.Load(context.Background(), "drifting", false))

	out, err := m.Decide(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, types.DecisionStay, out.Decision)
	assert.Zero(t, out.Confidence)
	assert.Equal(t, "engine error", out.Reasoning)
}

func TestReloadRestoresBackupOnFailure(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	require.NoError(t, m.Load(context.Background(), CostModelEngineName, false))

	err := m.Reload(context.Background(), "broken-output")
	require.Error(t, err)

	typ, _, status, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, CostModelEngineName, typ, "failed hot-reload restores the previous engine verbatim")
	assert.Equal(t, types.EngineActive, status)
}

func TestReloadSwapsEngine(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry()})
	require.NoError(t, m.Load(context.Background(), RulesEngineName, false))
	require.NoError(t, m.Reload(context.Background(), CostModelEngineName))

	typ, _, status, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, CostModelEngineName, typ)
	assert.Equal(t, types.EngineActive, status)
}

func TestHistoryBounded(t *testing.T) {
	m := NewManager(Options{Registry: testRegistry(), HistoryLimit: 3})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Load(ctx, RulesEngineName, true))
	}
	assert.Len(t, m.History(), 3)
}
