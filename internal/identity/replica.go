package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// replicaTransitions gates replica lifecycle updates. Promotion is not
// reachable through UpdateReplicaStatus; only PromoteReplica performs it.
var replicaTransitions = map[types.ReplicaStatus][]types.ReplicaStatus{
	types.ReplicaLaunching: {types.ReplicaSyncing, types.ReplicaTerminated},
	types.ReplicaSyncing:   {types.ReplicaReady, types.ReplicaTerminated},
	types.ReplicaReady:     {types.ReplicaSyncing, types.ReplicaTerminated},
}

func replicaCanTransition(from, to types.ReplicaStatus) bool {
	for _, allowed := range replicaTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// MintReplica launches a standby replica for a primary agent. The replica
// gets its own agent row under a derived logical id, disabled for command
// delivery until promoted, plus a relation row linking it to the primary.
func (m *Manager) MintReplica(ctx context.Context, primaryAgentID, instanceID, az, poolID string) (types.ReplicaRecord, error) {
	if primaryAgentID == "" || instanceID == "" {
		return types.ReplicaRecord{}, fmt.Errorf("%w: primaryAgentId and instanceId are required", ErrValidation)
	}

	primary, err := m.store.GetAgent(ctx, primaryAgentID)
	if err != nil {
		return types.ReplicaRecord{}, fmt.Errorf("looking up primary %s: %w", primaryAgentID, err)
	}

	now := m.now().UTC()
	replicaAgentID := "agt_" + ulid.Make().String()
	logicalID := replicaLogicalID(primary.LogicalAgentID, replicaAgentID)

	agent := types.AgentRecord{
		AgentID:          replicaAgentID,
		ClientID:         primary.ClientID,
		LogicalAgentID:   logicalID,
		InstanceID:       instanceID,
		AvailabilityZone: az,
		PoolID:           poolID,
		InstanceCount:    1,
		Status:           types.AgentOnline,
		Enabled:          false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return types.ReplicaRecord{}, fmt.Errorf("creating replica agent: %w", err)
	}
	if err := m.store.PutInstance(ctx, types.InstanceRecord{
		AgentID:          replicaAgentID,
		InstanceID:       instanceID,
		AvailabilityZone: az,
		PoolID:           poolID,
		Active:           true,
		LaunchedAt:       now,
	}); err != nil {
		return types.ReplicaRecord{}, fmt.Errorf("recording replica instance: %w", err)
	}

	rep := types.ReplicaRecord{
		ReplicaAgentID: replicaAgentID,
		PrimaryAgentID: primaryAgentID,
		LogicalAgentID: logicalID,
		InstanceID:     instanceID,
		Status:         types.ReplicaLaunching,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.PutReplica(ctx, rep); err != nil {
		return types.ReplicaRecord{}, fmt.Errorf("recording replica relation: %w", err)
	}

	m.logger.Info("replica minted",
		"replicaAgentId", replicaAgentID, "primaryAgentId", primaryAgentID, "poolId", poolID)
	return rep, nil
}

// UpdateReplicaStatus advances a replica through its sync lifecycle. Marking
// a replica terminated also terminates its standby agent row.
func (m *Manager) UpdateReplicaStatus(ctx context.Context, replicaAgentID string, status types.ReplicaStatus) (types.ReplicaRecord, error) {
	rep, err := m.store.GetReplica(ctx, replicaAgentID)
	if err != nil {
		return types.ReplicaRecord{}, fmt.Errorf("looking up replica %s: %w", replicaAgentID, err)
	}
	if !replicaCanTransition(rep.Status, status) {
		return types.ReplicaRecord{}, fmt.Errorf("%w: replica cannot move from %s to %s",
			ErrValidation, rep.Status, status)
	}

	rep.Status = status
	rep.UpdatedAt = m.now().UTC()
	if err := m.store.PutReplica(ctx, *rep); err != nil {
		return types.ReplicaRecord{}, fmt.Errorf("updating replica %s: %w", replicaAgentID, err)
	}

	if status == types.ReplicaTerminated {
		if err := m.CleanupTerminatedAgent(ctx, replicaAgentID); err != nil {
			m.logger.Warn("terminating replica agent failed",
				"replicaAgentId", replicaAgentID, "error", err)
		}
	}
	m.logger.Info("replica status updated", "replicaAgentId", replicaAgentID, "status", status)
	return *rep, nil
}

// PromoteReplica makes a ready replica the primary's live instance. The
// temporary replica agent row and its relation are removed; the primary is
// migrated in place onto the replica's instance, so the fleet's logical
// identity never changes.
func (m *Manager) PromoteReplica(ctx context.Context, replicaAgentID string) (types.AgentRecord, error) {
	rep, err := m.store.GetReplica(ctx, replicaAgentID)
	if err != nil {
		return types.AgentRecord{}, fmt.Errorf("looking up replica %s: %w", replicaAgentID, err)
	}
	if rep.Status != types.ReplicaReady {
		return types.AgentRecord{}, fmt.Errorf("%w: replica %s is %s, want %s",
			ErrValidation, replicaAgentID, rep.Status, types.ReplicaReady)
	}

	primary, err := m.store.GetAgent(ctx, rep.PrimaryAgentID)
	if err != nil {
		return types.AgentRecord{}, fmt.Errorf("looking up primary %s: %w", rep.PrimaryAgentID, err)
	}
	replicaAgent, err := m.store.GetAgent(ctx, replicaAgentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return types.AgentRecord{}, fmt.Errorf("looking up replica agent %s: %w", replicaAgentID, err)
	}
	az, pool := "", ""
	if replicaAgent != nil {
		az, pool = replicaAgent.AvailabilityZone, replicaAgent.PoolID
	}

	lock := m.logicalLock(primary.ClientID, primary.LogicalAgentID)
	lock.Lock()
	defer lock.Unlock()

	migrated, err := m.migrateLocked(ctx, primary, rep.InstanceID, az, pool)
	if err != nil {
		return types.AgentRecord{}, err
	}

	if err := m.store.DeleteReplica(ctx, replicaAgentID); err != nil {
		m.logger.Warn("removing replica relation failed", "replicaAgentId", replicaAgentID, "error", err)
	}
	if err := m.store.DeleteAgent(ctx, replicaAgentID); err != nil {
		m.logger.Warn("removing replica agent row failed", "replicaAgentId", replicaAgentID, "error", err)
	}

	metrics.ReplicasPromoted.Add(1)
	m.recordEvent(ctx, primary.AgentID, types.EventReplicaPromoted, rep.InstanceID)
	m.logger.Info("replica promoted",
		"primaryAgentId", primary.AgentID, "replicaAgentId", replicaAgentID, "instanceId", rep.InstanceID)
	return migrated, nil
}
