package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshift-io/gridshift/internal/engine"
	"github.com/gridshift-io/gridshift/internal/identity"
	"github.com/gridshift-io/gridshift/internal/sentinel"
	"github.com/gridshift-io/gridshift/internal/testutil"
	"github.com/gridshift-io/gridshift/internal/tracker"
	"github.com/gridshift-io/gridshift/internal/valve"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// controlPlane wires every manager against one shared store, the way the
// serve command composes them.
type controlPlane struct {
	store    *testutil.MockStore
	valve    *valve.Valve
	sentinel *sentinel.Sentinel
	tracker  *tracker.Tracker
	identity *identity.Manager
	engines  *engine.Manager
	now      *time.Time
}

func newControlPlane(t *testing.T) *controlPlane {
	t.Helper()
	st := testutil.NewMockStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cp := &controlPlane{
		store:    st,
		valve:    valve.New(valve.Options{Store: st, Now: clock}),
		tracker:  tracker.New(tracker.Options{Store: st, Now: clock}),
		identity: identity.New(identity.Options{Store: st, Now: clock}),
		engines: engine.NewManager(engine.Options{
			Registry: engine.BuiltinRegistry(),
			Store:    st,
			Fallback: engine.RulesEngineName,
			Now:      clock,
		}),
		now: &now,
	}
	cp.sentinel = sentinel.New(sentinel.Options{
		Store: st,
		Now:   clock,
		Sleep: func(time.Duration) {},
	})
	require.NoError(t, cp.engines.Load(context.Background(), engine.CostModelEngineName, false))
	return cp
}

func (cp *controlPlane) advance(d time.Duration) {
	*cp.now = cp.now.Add(d)
}

func TestAgentLifecycleEndToEnd(t *testing.T) {
	cp := newControlPlane(t)
	ctx := context.Background()

	// An agent boots and registers its logical identity.
	minted, err := cp.identity.Mint(ctx, identity.MintRequest{
		ClientID:         "acme",
		LogicalAgentID:   "render-farm-1",
		InstanceID:       "i-0abc",
		AvailabilityZone: "us-east-1a",
		PoolID:           "c5.large/us-east-1a",
	})
	require.NoError(t, err)
	require.True(t, minted.IsNew)
	agentID := minted.Agent.AgentID

	// It reports pool prices for a week of simulated uptime.
	for i := 0; i < 30; i++ {
		_, err := cp.valve.StorePriceSnapshot(ctx, types.PriceSnapshot{
			PoolID:     "c5.large/us-east-1a",
			Price:      0.034,
			CapturedAt: cp.now.Add(time.Duration(i-30) * time.Minute),
			SourceID:   agentID,
			Quality:    types.QualityActual,
		})
		require.NoError(t, err)
	}
	history, err := cp.valve.GetRecentPrices(ctx, "c5.large/us-east-1a", 1, true)
	require.NoError(t, err)
	require.NotEmpty(t, history)

	// The decision engine holds position while spot stays cheap.
	out, err := cp.engines.Decide(ctx, types.DecisionInput{
		AgentID:             agentID,
		InstanceType:        "c5.large",
		Region:              "us-east-1",
		CurrentMode:         "spot",
		CurrentPoolID:       "c5.large/us-east-1a",
		SpotPrice:           0.034,
		OnDemandPrice:       0.096,
		PriceHistory7d:      history,
		InterruptionHistory: []types.InterruptionSignal{},
	})
	require.NoError(t, err)
	assert.Equal(t, types.DecisionStay, out.Decision)

	// A termination notice arrives; the control plane enqueues an emergency
	// drain command through the registered callback.
	require.NoError(t, cp.sentinel.RegisterCallback(sentinel.SlotTermination,
		func(ctx context.Context, agentID, instanceID string, detectedAt time.Time, _ map[string]interface{}) (interface{}, error) {
			cmd, err := cp.tracker.Create(ctx, tracker.CreateRequest{
				AgentID:   agentID,
				ClientID:  "acme",
				Type:      "drain_and_migrate",
				Priority:  types.PriorityEmergency,
				CreatedBy: "sentinel",
				Trigger:   types.TriggerInterruption,
				Payload:   map[string]interface{}{"instanceId": instanceID},
			})
			if err != nil {
				return nil, err
			}
			return cmd.ID, nil
		}))

	res, err := cp.sentinel.ProcessInterruptionSignal(ctx, types.InterruptionSignal{
		AgentID:    agentID,
		InstanceID: "i-0abc",
		Type:       types.SignalTerminationNotice,
		DetectedAt: *cp.now,
	})
	require.NoError(t, err)
	require.NoError(t, res.CallbackErr)
	assert.True(t, res.Persisted)

	// The agent claims the command, migrates to a new instance, completes.
	pending, err := cp.tracker.GetPending(ctx, agentID, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	claimed, err := cp.tracker.MarkExecuting(ctx, pending[0].ID)
	require.NoError(t, err)
	require.True(t, claimed)

	cp.advance(2 * time.Minute)
	migrated, err := cp.identity.Migrate(ctx,
		"acme", "render-farm-1", "i-0def", "us-east-1b", "m5.large/us-east-1b")
	require.NoError(t, err)
	assert.Equal(t, agentID, migrated.AgentID, "migration must preserve the durable identity")
	assert.Equal(t, 2, migrated.InstanceCount)

	done, err := cp.tracker.MarkCompleted(ctx, pending[0].ID,
		map[string]interface{}{"newInstanceId": "i-0def"})
	require.NoError(t, err)
	require.True(t, done)

	cmd, err := cp.tracker.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.CommandCompleted, cmd.Status)

	// A duplicate of the same notice inside the dedup window is dropped and
	// does not enqueue a second command.
	cp.advance(time.Minute)
	res2, err := cp.sentinel.ProcessInterruptionSignal(ctx, types.InterruptionSignal{
		AgentID:    agentID,
		InstanceID: "i-0def",
		Type:       types.SignalTerminationNotice,
		DetectedAt: *cp.now,
	})
	require.NoError(t, err)
	assert.True(t, res2.Duplicate)
	remaining, err := cp.tracker.GetPending(ctx, agentID, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReplicaFailoverEndToEnd(t *testing.T) {
	cp := newControlPlane(t)
	ctx := context.Background()

	minted, err := cp.identity.Mint(ctx, identity.MintRequest{
		ClientID:       "acme",
		LogicalAgentID: "render-farm-2",
		InstanceID:     "i-primary",
		PoolID:         "c5.large/us-east-1a",
	})
	require.NoError(t, err)
	primaryID := minted.Agent.AgentID

	// A standby replica is launched in another pool and syncs up.
	rep, err := cp.identity.MintReplica(ctx, primaryID, "i-standby", "us-east-1c", "c5.large/us-east-1c")
	require.NoError(t, err)
	cp.advance(time.Minute)
	_, err = cp.identity.UpdateReplicaStatus(ctx, rep.ReplicaAgentID, types.ReplicaSyncing)
	require.NoError(t, err)
	cp.advance(time.Minute)
	_, err = cp.identity.UpdateReplicaStatus(ctx, rep.ReplicaAgentID, types.ReplicaReady)
	require.NoError(t, err)

	// The primary's instance is interrupted; promotion swaps the standby in
	// under the same durable identity.
	_, err = cp.sentinel.ProcessInterruptionSignal(ctx, types.InterruptionSignal{
		AgentID:    primaryID,
		InstanceID: "i-primary",
		Type:       types.SignalSpotInterruption,
		DetectedAt: *cp.now,
	})
	require.NoError(t, err)

	promoted, err := cp.identity.PromoteReplica(ctx, rep.ReplicaAgentID)
	require.NoError(t, err)
	assert.Equal(t, primaryID, promoted.AgentID)
	assert.Equal(t, "i-standby", promoted.InstanceID)
	assert.Equal(t, "c5.large/us-east-1c", promoted.PoolID)

	// Only the primary remains in the fleet.
	agents, err := cp.store.ListAgents(ctx, false)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, primaryID, agents[0].AgentID)
	assert.Len(t, cp.store.EventsOfKind(primaryID, types.EventReplicaPromoted), 1)
}
