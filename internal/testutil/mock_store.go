// Package testutil provides shared test utilities for Gridshift.
package testutil

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// Compile-time interface satisfaction check.
var _ store.Store = (*MockStore)(nil)

// MockStore is an in-memory Store implementation for testing. Ordering
// guarantees match the DynamoDB backend: pending commands come back priority
// descending then creation ascending, price snapshots come back chronological.
type MockStore struct {
	mu        sync.Mutex
	prices    map[string][]types.PriceSnapshot // key: poolID
	permanent []types.PermanentRecord
	signals   map[string][]types.InterruptionSignal // key: agentID
	commands  map[string]types.Command              // key: command ID
	agents    map[string]types.AgentRecord          // key: agentID
	instances map[string][]types.InstanceRecord     // key: agentID
	replicas  map[string]types.ReplicaRecord        // key: replicaAgentID
	events    map[string][]types.Event              // key: agentID

	pingErr error

	putCount atomic.Int64 // incremented on each price write
}

// NewMockStore creates a new in-memory mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		prices:    make(map[string][]types.PriceSnapshot),
		signals:   make(map[string][]types.InterruptionSignal),
		commands:  make(map[string]types.Command),
		agents:    make(map[string]types.AgentRecord),
		instances: make(map[string][]types.InstanceRecord),
		replicas:  make(map[string]types.ReplicaRecord),
		events:    make(map[string][]types.Event),
	}
}

func (m *MockStore) PutPriceSnapshot(_ context.Context, snap types.PriceSnapshot) error {
	m.putCount.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertPrice(snap)
	return nil
}

func (m *MockStore) PutPriceSnapshots(_ context.Context, snaps []types.PriceSnapshot) error {
	m.putCount.Add(int64(len(snaps)))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range snaps {
		m.insertPrice(snap)
	}
	return nil
}

// insertPrice keeps the per-pool series sorted by capture time. A write at
// an existing capture time overwrites that row, matching the key-value
// backend. Callers hold mu.
func (m *MockStore) insertPrice(snap types.PriceSnapshot) {
	for i, existing := range m.prices[snap.PoolID] {
		if existing.CapturedAt.Equal(snap.CapturedAt) {
			m.prices[snap.PoolID][i] = snap
			return
		}
	}
	series := append(m.prices[snap.PoolID], snap)
	sort.Slice(series, func(i, j int) bool {
		return series[i].CapturedAt.Before(series[j].CapturedAt)
	})
	m.prices[snap.PoolID] = series
}

func (m *MockStore) LatestPriceSnapshot(_ context.Context, poolID string) (*types.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	series := m.prices[poolID]
	if len(series) == 0 {
		return nil, store.ErrNotFound
	}
	snap := series[len(series)-1]
	return &snap, nil
}

func (m *MockStore) ListPriceSnapshots(_ context.Context, poolID string, since time.Time) ([]types.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []types.PriceSnapshot
	for _, snap := range m.prices[poolID] {
		if !snap.CapturedAt.Before(since) {
			result = append(result, snap)
		}
	}
	return result, nil
}

func (m *MockStore) PurgePriceSnapshots(_ context.Context, poolID string, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []types.PriceSnapshot
	purged := 0
	for _, snap := range m.prices[poolID] {
		if snap.CapturedAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, snap)
	}
	m.prices[poolID] = kept
	return purged, nil
}

func (m *MockStore) ListPoolIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.prices))
	for id := range m.prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MockStore) PutPermanentRecord(_ context.Context, rec types.PermanentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permanent = append(m.permanent, rec)
	return nil
}

// PermanentRecords returns all permanent rows written so far.
func (m *MockStore) PermanentRecords() []types.PermanentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PermanentRecord, len(m.permanent))
	copy(out, m.permanent)
	return out
}

func (m *MockStore) PutSignal(_ context.Context, sig types.InterruptionSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[sig.AgentID] = append(m.signals[sig.AgentID], sig)
	return nil
}

func (m *MockStore) LatestSignal(_ context.Context, agentID string, signalType types.SignalType) (*types.InterruptionSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *types.InterruptionSignal
	for i := range m.signals[agentID] {
		sig := m.signals[agentID][i]
		if sig.Type != signalType {
			continue
		}
		if latest == nil || sig.DetectedAt.After(latest.DetectedAt) {
			latest = &sig
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (m *MockStore) ListSignals(_ context.Context, agentID string, since time.Time) ([]types.InterruptionSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []types.InterruptionSignal
	for _, sig := range m.signals[agentID] {
		if !sig.DetectedAt.Before(since) {
			result = append(result, sig)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.Before(result[j].DetectedAt)
	})
	return result, nil
}

func (m *MockStore) PutCommand(_ context.Context, cmd types.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[cmd.ID]; ok {
		return store.ErrConflict
	}
	m.commands[cmd.ID] = cmd
	return nil
}

func (m *MockStore) GetCommand(_ context.Context, id string) (*types.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cmd, nil
}

func (m *MockStore) UpdateCommandStatus(_ context.Context, id string, expect []types.CommandStatus, to types.CommandStatus, update types.CommandUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[id]
	if !ok {
		return false, store.ErrNotFound
	}
	matched := false
	for _, st := range expect {
		if cmd.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	cmd.Status = to
	if update.ExecutionResult != nil {
		cmd.ExecutionResult = update.ExecutionResult
	}
	if update.ErrorMessage != "" {
		cmd.ErrorMessage = update.ErrorMessage
	}
	cmd.RetryRecommended = update.RetryRecommended
	if update.ExecutedAt != nil {
		cmd.ExecutedAt = update.ExecutedAt
	}
	if update.CompletedAt != nil {
		cmd.CompletedAt = update.CompletedAt
	}
	m.commands[id] = cmd
	return true, nil
}

func (m *MockStore) ListPendingCommands(_ context.Context, agentID string, limit int) ([]types.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []types.Command
	for _, cmd := range m.commands {
		if cmd.AgentID == agentID && cmd.Status == types.CommandPending {
			result = append(result, cmd)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockStore) ListCommands(_ context.Context, filter types.CommandFilter) ([]types.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []types.Command
	for _, cmd := range m.commands {
		if filter.AgentID != "" && cmd.AgentID != filter.AgentID {
			continue
		}
		if filter.ClientID != "" && cmd.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && cmd.Status != filter.Status {
			continue
		}
		if filter.ExcludePending && cmd.Status == types.CommandPending {
			continue
		}
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MockStore) CreateAgent(_ context.Context, rec types.AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.agents {
		if existing.ClientID == rec.ClientID && existing.LogicalAgentID == rec.LogicalAgentID && existing.Status != types.AgentReplaced {
			return store.ErrConflict
		}
	}
	m.agents[rec.AgentID] = rec
	return nil
}

func (m *MockStore) GetAgent(_ context.Context, agentID string) (*types.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[agentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (m *MockStore) FindAgentByLogicalID(_ context.Context, clientID, logicalAgentID string) (*types.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.agents {
		if rec.ClientID == clientID && rec.LogicalAgentID == logicalAgentID && rec.Status != types.AgentReplaced {
			out := rec
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) UpdateAgent(_ context.Context, rec types.AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[rec.AgentID]; !ok {
		return store.ErrNotFound
	}
	m.agents[rec.AgentID] = rec
	return nil
}

func (m *MockStore) ListAgents(_ context.Context, onlyEnabled bool) ([]types.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []types.AgentRecord
	for _, rec := range m.agents {
		if onlyEnabled && !rec.Enabled {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AgentID < result[j].AgentID
	})
	return result, nil
}

func (m *MockStore) DeleteAgent(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agentID)
	return nil
}

func (m *MockStore) PutInstance(_ context.Context, inst types.InstanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.instances[inst.AgentID]
	for i := range list {
		if list[i].InstanceID == inst.InstanceID {
			list[i] = inst
			return nil
		}
	}
	m.instances[inst.AgentID] = append(list, inst)
	return nil
}

func (m *MockStore) ListInstances(_ context.Context, agentID string) ([]types.InstanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.InstanceRecord, len(m.instances[agentID]))
	copy(out, m.instances[agentID])
	sort.Slice(out, func(i, j int) bool {
		return out[i].LaunchedAt.Before(out[j].LaunchedAt)
	})
	return out, nil
}

func (m *MockStore) PutReplica(_ context.Context, rep types.ReplicaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replicas[rep.ReplicaAgentID] = rep
	return nil
}

func (m *MockStore) GetReplica(_ context.Context, replicaAgentID string) (*types.ReplicaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.replicas[replicaAgentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rep, nil
}

func (m *MockStore) ListReplicas(_ context.Context, primaryAgentID string) ([]types.ReplicaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []types.ReplicaRecord
	for _, rep := range m.replicas {
		if rep.PrimaryAgentID == primaryAgentID {
			result = append(result, rep)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteReplica removes a replica row. Used by promotion flows and tests.
func (m *MockStore) DeleteReplica(_ context.Context, replicaAgentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.replicas, replicaAgentID)
	return nil
}

func (m *MockStore) AppendEvent(_ context.Context, event types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.AgentID] = append(m.events[event.AgentID], event)
	return nil
}

func (m *MockStore) ListEvents(_ context.Context, agentID string, limit int) ([]types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evts := m.events[agentID]
	start := 0
	if limit > 0 && len(evts) > limit {
		start = len(evts) - limit
	}
	out := make([]types.Event, len(evts)-start)
	copy(out, evts[start:])
	return out, nil
}

// EventsOfKind returns the recorded events of the given kind for an agent.
func (m *MockStore) EventsOfKind(agentID string, kind types.EventKind) []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Event
	for _, evt := range m.events[agentID] {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

// SetPingError makes Ping return the given error.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// PutCallCount returns the number of price snapshot writes so far.
func (m *MockStore) PutCallCount() int64 {
	return m.putCount.Load()
}

func (m *MockStore) Start(_ context.Context) error { return nil }
func (m *MockStore) Stop(_ context.Context) error  { return nil }

func (m *MockStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}
