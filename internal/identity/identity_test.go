package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/internal/testutil"
	"github.com/gridshift-io/gridshift/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *testutil.MockStore, *time.Time) {
	t.Helper()
	st := testutil.NewMockStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr := New(Options{
		Store: st,
		Now:   func() time.Time { return now },
	})
	return mgr, st, &now
}

func TestMintCreatesNewAgent(t *testing.T) {
	mgr, st, _ := newTestManager(t)

	res, err := mgr.Mint(context.Background(), MintRequest{
		ClientID:         "acme",
		LogicalAgentID:   "render-farm-1",
		InstanceID:       "i-0abc",
		AvailabilityZone: "us-east-1a",
		PoolID:           "c5.large/us-east-1a",
	})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.False(t, res.Migrated)
	assert.True(t, strings.HasPrefix(res.Agent.AgentID, "agt_"))
	assert.Equal(t, 1, res.Agent.InstanceCount)
	assert.Equal(t, types.AgentOnline, res.Agent.Status)
	assert.True(t, res.Agent.Enabled)

	instances, err := st.ListInstances(context.Background(), res.Agent.AgentID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.True(t, instances[0].Active)
	assert.Len(t, st.EventsOfKind(res.Agent.AgentID, types.EventAgentMinted), 1)
}

func TestMintValidation(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	tests := []struct {
		name string
		req  MintRequest
	}{
		{"missing client", MintRequest{LogicalAgentID: "a", InstanceID: "i-1"}},
		{"missing logical id", MintRequest{ClientID: "acme", InstanceID: "i-1"}},
		{"missing instance", MintRequest{ClientID: "acme", LogicalAgentID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Mint(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestMintSelfHealsIntoMigration(t *testing.T) {
	mgr, st, now := newTestManager(t)

	first, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1", InstanceID: "i-0abc",
	})
	require.NoError(t, err)

	*now = now.Add(30 * time.Minute)
	second, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1",
		InstanceID: "i-0def", PoolID: "m5.large/us-east-1b",
	})
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.True(t, second.Migrated)
	assert.Equal(t, first.Agent.AgentID, second.Agent.AgentID, "logical identity must survive re-mint")
	assert.Equal(t, 2, second.Agent.InstanceCount)
	assert.Equal(t, "i-0def", second.Agent.InstanceID)

	agents, err := st.ListAgents(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, agents, 1, "re-mint must not insert a second agent row")

	instances, err := st.ListInstances(context.Background(), first.Agent.AgentID)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.False(t, instances[0].Active)
	require.NotNil(t, instances[0].RetiredAt)
	assert.True(t, instances[1].Active)
}

func TestMigrateUpdatesRowInPlace(t *testing.T) {
	mgr, st, now := newTestManager(t)

	minted, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1",
		InstanceID: "i-0abc", AvailabilityZone: "us-east-1a", PoolID: "c5.large/us-east-1a",
	})
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	migrated, err := mgr.Migrate(context.Background(),
		"acme", "render-farm-1", "i-0def", "us-east-1b", "m5.large/us-east-1b")
	require.NoError(t, err)
	assert.Equal(t, minted.Agent.AgentID, migrated.AgentID)
	assert.Equal(t, "us-east-1b", migrated.AvailabilityZone)
	assert.Equal(t, "m5.large/us-east-1b", migrated.PoolID)
	assert.Equal(t, 2, migrated.InstanceCount)
	assert.Len(t, st.EventsOfKind(migrated.AgentID, types.EventAgentMigrated), 1)
}

func TestMigratePreservesPlacementWhenOmitted(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1",
		InstanceID: "i-0abc", AvailabilityZone: "us-east-1a", PoolID: "c5.large/us-east-1a",
	})
	require.NoError(t, err)

	migrated, err := mgr.Migrate(context.Background(), "acme", "render-farm-1", "i-0def", "", "")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1a", migrated.AvailabilityZone)
	assert.Equal(t, "c5.large/us-east-1a", migrated.PoolID)
}

func TestMigrateUnknownLogicalAgentFails(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Migrate(context.Background(), "acme", "never-minted", "i-0def", "", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCleanupTerminatedAgent(t *testing.T) {
	mgr, st, _ := newTestManager(t)

	minted, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1", InstanceID: "i-0abc",
	})
	require.NoError(t, err)

	require.NoError(t, mgr.CleanupTerminatedAgent(context.Background(), minted.Agent.AgentID))

	rec, err := st.GetAgent(context.Background(), minted.Agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentTerminated, rec.Status)
	assert.False(t, rec.Enabled, "terminated agents must not receive commands")

	instances, err := st.ListInstances(context.Background(), minted.Agent.AgentID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Active)

	// Idempotent: a second call is a no-op, not an error, and records no
	// duplicate event.
	require.NoError(t, mgr.CleanupTerminatedAgent(context.Background(), minted.Agent.AgentID))
	assert.Len(t, st.EventsOfKind(minted.Agent.AgentID, types.EventAgentTerminated), 1)
}

func TestCleanupUnknownAgentSucceeds(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	assert.NoError(t, mgr.CleanupTerminatedAgent(context.Background(), "agt_missing"))
}

func TestMintReplica(t *testing.T) {
	mgr, st, _ := newTestManager(t)

	minted, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1", InstanceID: "i-0abc",
	})
	require.NoError(t, err)

	rep, err := mgr.MintReplica(context.Background(),
		minted.Agent.AgentID, "i-0rep", "us-east-1c", "c5.large/us-east-1c")
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaLaunching, rep.Status)
	assert.Equal(t, minted.Agent.AgentID, rep.PrimaryAgentID)
	assert.Contains(t, rep.LogicalAgentID, "render-farm-1+replica-")

	replicaAgent, err := st.GetAgent(context.Background(), rep.ReplicaAgentID)
	require.NoError(t, err)
	assert.False(t, replicaAgent.Enabled, "standby replicas must not receive commands")

	replicas, err := st.ListReplicas(context.Background(), minted.Agent.AgentID)
	require.NoError(t, err)
	assert.Len(t, replicas, 1)
}

func TestMintReplicaUnknownPrimary(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.MintReplica(context.Background(), "agt_missing", "i-0rep", "", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReplicaLifecycleTransitions(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	minted, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1", InstanceID: "i-0abc",
	})
	require.NoError(t, err)
	rep, err := mgr.MintReplica(context.Background(), minted.Agent.AgentID, "i-0rep", "", "")
	require.NoError(t, err)

	// launching -> ready skips syncing and is rejected.
	_, err = mgr.UpdateReplicaStatus(context.Background(), rep.ReplicaAgentID, types.ReplicaReady)
	assert.ErrorIs(t, err, ErrValidation)

	rep2, err := mgr.UpdateReplicaStatus(context.Background(), rep.ReplicaAgentID, types.ReplicaSyncing)
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaSyncing, rep2.Status)

	rep3, err := mgr.UpdateReplicaStatus(context.Background(), rep.ReplicaAgentID, types.ReplicaReady)
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaReady, rep3.Status)
}

func TestTerminatedReplicaDisablesStandbyAgent(t *testing.T) {
	mgr, st, _ := newTestManager(t)

	minted, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1", InstanceID: "i-0abc",
	})
	require.NoError(t, err)
	rep, err := mgr.MintReplica(context.Background(), minted.Agent.AgentID, "i-0rep", "", "")
	require.NoError(t, err)

	_, err = mgr.UpdateReplicaStatus(context.Background(), rep.ReplicaAgentID, types.ReplicaTerminated)
	require.NoError(t, err)

	standby, err := st.GetAgent(context.Background(), rep.ReplicaAgentID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentTerminated, standby.Status)
}

func TestPromoteReplica(t *testing.T) {
	mgr, st, now := newTestManager(t)

	minted, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1",
		InstanceID: "i-0abc", AvailabilityZone: "us-east-1a", PoolID: "c5.large/us-east-1a",
	})
	require.NoError(t, err)
	rep, err := mgr.MintReplica(context.Background(),
		minted.Agent.AgentID, "i-0rep", "us-east-1c", "c5.large/us-east-1c")
	require.NoError(t, err)

	*now = now.Add(5 * time.Minute)
	_, err = mgr.UpdateReplicaStatus(context.Background(), rep.ReplicaAgentID, types.ReplicaSyncing)
	require.NoError(t, err)
	_, err = mgr.UpdateReplicaStatus(context.Background(), rep.ReplicaAgentID, types.ReplicaReady)
	require.NoError(t, err)

	promoted, err := mgr.PromoteReplica(context.Background(), rep.ReplicaAgentID)
	require.NoError(t, err)
	assert.Equal(t, minted.Agent.AgentID, promoted.AgentID, "promotion keeps the primary's identity")
	assert.Equal(t, "i-0rep", promoted.InstanceID)
	assert.Equal(t, "us-east-1c", promoted.AvailabilityZone)
	assert.Equal(t, 2, promoted.InstanceCount)

	_, err = st.GetReplica(context.Background(), rep.ReplicaAgentID)
	assert.ErrorIs(t, err, store.ErrNotFound, "relation row is removed on promotion")
	_, err = st.GetAgent(context.Background(), rep.ReplicaAgentID)
	assert.ErrorIs(t, err, store.ErrNotFound, "standby agent row is removed on promotion")

	assert.Len(t, st.EventsOfKind(minted.Agent.AgentID, types.EventReplicaPromoted), 1)
}

func TestPromoteRequiresReadyReplica(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	minted, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1", InstanceID: "i-0abc",
	})
	require.NoError(t, err)
	rep, err := mgr.MintReplica(context.Background(), minted.Agent.AgentID, "i-0rep", "", "")
	require.NoError(t, err)

	_, err = mgr.PromoteReplica(context.Background(), rep.ReplicaAgentID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMintAdoptsRowFromAnotherProcess(t *testing.T) {
	mgr, st, _ := newTestManager(t)

	// Simulate a row created by another process that this manager's lock
	// never saw.
	require.NoError(t, st.CreateAgent(context.Background(), types.AgentRecord{
		AgentID: "agt_other", ClientID: "acme", LogicalAgentID: "render-farm-1",
		InstanceID: "i-0old", InstanceCount: 1,
		Status: types.AgentOnline, Enabled: true,
	}))

	res, err := mgr.Mint(context.Background(), MintRequest{
		ClientID: "acme", LogicalAgentID: "render-farm-1", InstanceID: "i-0new",
	})
	require.NoError(t, err)
	assert.True(t, res.Migrated)
	assert.Equal(t, "agt_other", res.Agent.AgentID)
	assert.Equal(t, 2, res.Agent.InstanceCount)
}

func TestReplicaLogicalIDDerivation(t *testing.T) {
	got := replicaLogicalID("render-farm-1", "agt_01HXYZABCDEF")
	assert.Equal(t, "render-farm-1+replica-abcdef", got)
	assert.NotEqual(t, "render-farm-1", got)
}
