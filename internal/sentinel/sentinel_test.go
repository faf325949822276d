package sentinel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshift-io/gridshift/internal/testutil"
	"github.com/gridshift-io/gridshift/pkg/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSentinel(opts Options) (*Sentinel, *testutil.MockStore) {
	st := testutil.NewMockStore()
	opts.Store = st
	if opts.Now == nil {
		opts.Now = func() time.Time { return base }
	}
	if opts.Sleep == nil {
		opts.Sleep = func(time.Duration) {}
	}
	return New(opts), st
}

func signal(agentID string, t types.SignalType, at time.Time) types.InterruptionSignal {
	return types.InterruptionSignal{
		AgentID:    agentID,
		InstanceID: "i-0abc",
		Type:       t,
		DetectedAt: at,
	}
}

func TestSignalValidation(t *testing.T) {
	s, _ := newTestSentinel(Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		sig  types.InterruptionSignal
	}{
		{"missing agent", types.InterruptionSignal{InstanceID: "i-1", Type: types.SignalSpotInterruption}},
		{"missing instance", types.InterruptionSignal{AgentID: "a1", Type: types.SignalSpotInterruption}},
		{"unknown type", types.InterruptionSignal{AgentID: "a1", InstanceID: "i-1", Type: "mystery"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ProcessInterruptionSignal(ctx, tt.sig)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSignalDedup(t *testing.T) {
	s, st := newTestSentinel(Options{})
	ctx := context.Background()

	first, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalSpotInterruption, base))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.Persisted)

	second, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalSpotInterruption, base.Add(5*time.Minute)))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Persisted)

	rows, err := st.ListSignals(ctx, "agent-1", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 1, "duplicate must not persist a second row")

	deduped := st.EventsOfKind("agent-1", types.EventSignalDeduplicated)
	assert.Len(t, deduped, 1)
}

func TestSignalDedupPerType(t *testing.T) {
	s, st := newTestSentinel(Options{})
	ctx := context.Background()

	_, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalSpotInterruption, base))
	require.NoError(t, err)
	res, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalRebalanceRecommendation, base.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "different signal types never dedup against each other")

	rows, err := st.ListSignals(ctx, "agent-1", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSignalDedupExpires(t *testing.T) {
	s, st := newTestSentinel(Options{})
	ctx := context.Background()

	_, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalTerminationNotice, base))
	require.NoError(t, err)
	res, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalTerminationNotice, base.Add(16*time.Minute)))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	rows, err := st.ListSignals(ctx, "agent-1", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRateLimitBackoff(t *testing.T) {
	var slept []time.Duration
	delay := 2 * time.Second
	s, _ := newTestSentinel(Options{
		RateDelay: delay,
		Sleep:     func(d time.Duration) { slept = append(slept, d) },
	})
	ctx := context.Background()

	// Distinct agents so dedup never kicks in; same signal type so they
	// share one rate-limit window.
	agents := []string{"agent-1", "agent-2", "agent-3", "agent-4"}
	var results []SignalResult
	for _, id := range agents {
		res, err := s.ProcessInterruptionSignal(ctx, signal(id, types.SignalSpotInterruption, base))
		require.NoError(t, err)
		results = append(results, res)
	}

	for i := 0; i < 3; i++ {
		assert.False(t, results[i].RateLimited, "call %d below threshold", i+1)
	}
	require.True(t, results[3].RateLimited, "4th call within the window must back off")
	assert.GreaterOrEqual(t, results[3].Delayed, 3*delay)
	require.Len(t, slept, 1)
	assert.Equal(t, results[3].Delayed, slept[0])
}

func TestRateLimitWindowsPerType(t *testing.T) {
	var slept []time.Duration
	s, _ := newTestSentinel(Options{
		Sleep: func(d time.Duration) { slept = append(slept, d) },
	})
	ctx := context.Background()

	for i, id := range []string{"agent-1", "agent-2", "agent-3"} {
		sigType := types.SignalSpotInterruption
		if i == 2 {
			sigType = types.SignalRebalanceRecommendation
		}
		_, err := s.ProcessInterruptionSignal(ctx, signal(id, sigType, base))
		require.NoError(t, err)
	}

	// Only 2 spot interruptions recorded; a 3rd stays under the threshold.
	res, err := s.ProcessInterruptionSignal(ctx, signal("agent-4", types.SignalSpotInterruption, base))
	require.NoError(t, err)
	assert.False(t, res.RateLimited)
	assert.Empty(t, slept)
}

func TestCallbackInvocation(t *testing.T) {
	s, _ := newTestSentinel(Options{})
	ctx := context.Background()

	var gotAgent, gotInstance string
	require.NoError(t, s.RegisterCallback(SlotTermination, func(_ context.Context, agentID, instanceID string, _ time.Time, _ map[string]interface{}) (interface{}, error) {
		gotAgent = agentID
		gotInstance = instanceID
		return map[string]string{"action": "replica_promoted"}, nil
	}))

	res, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalTerminationNotice, base))
	require.NoError(t, err)
	assert.Equal(t, "agent-1", gotAgent)
	assert.Equal(t, "i-0abc", gotInstance)
	assert.Equal(t, map[string]string{"action": "replica_promoted"}, res.CallbackResult)
	assert.NoError(t, res.CallbackErr)
}

func TestCallbackSlotRouting(t *testing.T) {
	s, _ := newTestSentinel(Options{})
	ctx := context.Background()

	var rebalanceCalls, terminationCalls int
	require.NoError(t, s.RegisterCallback(SlotRebalance, func(context.Context, string, string, time.Time, map[string]interface{}) (interface{}, error) {
		rebalanceCalls++
		return nil, nil
	}))
	require.NoError(t, s.RegisterCallback(SlotTermination, func(context.Context, string, string, time.Time, map[string]interface{}) (interface{}, error) {
		terminationCalls++
		return nil, nil
	}))

	_, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalRebalanceRecommendation, base))
	require.NoError(t, err)
	_, err = s.ProcessInterruptionSignal(ctx, signal("agent-2", types.SignalSpotInterruption, base))
	require.NoError(t, err)
	_, err = s.ProcessInterruptionSignal(ctx, signal("agent-3", types.SignalTerminationNotice, base))
	require.NoError(t, err)

	assert.Equal(t, 1, rebalanceCalls)
	assert.Equal(t, 2, terminationCalls)
}

func TestMissingCallbackIsNotAnError(t *testing.T) {
	s, _ := newTestSentinel(Options{})
	res, err := s.ProcessInterruptionSignal(context.Background(), signal("agent-1", types.SignalSpotInterruption, base))
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Nil(t, res.CallbackResult)
}

func TestUnknownCallbackSlot(t *testing.T) {
	s, _ := newTestSentinel(Options{})
	err := s.RegisterCallback("voodoo", func(context.Context, string, string, time.Time, map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestSignalUpdatesAgentBookkeeping(t *testing.T) {
	s, st := newTestSentinel(Options{})
	ctx := context.Background()

	require.NoError(t, st.CreateAgent(ctx, types.AgentRecord{
		AgentID: "agent-1", ClientID: "c1", LogicalAgentID: "web-01",
		Status: types.AgentOnline, Enabled: true,
	}))

	_, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalSpotInterruption, base))
	require.NoError(t, err)

	rec, err := st.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.InterruptionCount)
	require.NotNil(t, rec.LastInterruptionAt)
	assert.Equal(t, base, rec.LastInterruptionAt.UTC())
}

func TestSignalAlertSeverity(t *testing.T) {
	var alerts []types.Alert
	s, _ := newTestSentinel(Options{
		AlertFn: func(a types.Alert) { alerts = append(alerts, a) },
	})
	ctx := context.Background()

	_, err := s.ProcessInterruptionSignal(ctx, signal("agent-1", types.SignalSpotInterruption, base))
	require.NoError(t, err)
	_, err = s.ProcessInterruptionSignal(ctx, signal("agent-2", types.SignalTerminationNotice, base))
	require.NoError(t, err)
	_, err = s.ProcessInterruptionSignal(ctx, signal("agent-3", types.SignalRebalanceRecommendation, base))
	require.NoError(t, err)

	require.Len(t, alerts, 3)
	assert.Equal(t, types.AlertLevelCritical, alerts[0].Level)
	assert.Equal(t, types.AlertLevelError, alerts[1].Level)
	assert.Equal(t, types.AlertLevelWarning, alerts[2].Level)
}
