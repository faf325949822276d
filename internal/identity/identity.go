// Package identity decouples logical workload identity from physical
// instances so pool switches and promoted replicas stay the same agent.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// ErrValidation marks synchronous rejections with no side effect.
var ErrValidation = errors.New("validation error")

// Options configures a Manager.
type Options struct {
	Store  store.Store
	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns the logical-to-physical agent mapping. Mint and migrate for a
// given logical id serialize on a per-key mutex; the store's uniqueness
// constraint backs this up across processes with detect-and-retry-as-migrate.
type Manager struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Manager.
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:  opts.Store,
		logger: opts.Logger,
		now:    opts.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) logicalLock(clientID, logicalAgentID string) *sync.Mutex {
	key := clientID + "/" + logicalAgentID
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// MintRequest carries the fields needed to register an agent.
type MintRequest struct {
	ClientID         string
	LogicalAgentID   string
	InstanceID       string
	AvailabilityZone string
	PoolID           string
}

func (r MintRequest) validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("%w: missing clientId", ErrValidation)
	}
	if r.LogicalAgentID == "" {
		return fmt.Errorf("%w: missing logicalAgentId", ErrValidation)
	}
	if r.InstanceID == "" {
		return fmt.Errorf("%w: missing instanceId", ErrValidation)
	}
	return nil
}

// MintResult reports whether the mint created a new identity or self-healed
// into a migration.
type MintResult struct {
	Agent    types.AgentRecord
	IsNew    bool
	Migrated bool
}

// Mint registers an agent under its logical identity. A second boot under an
// already-registered logical id self-heals into a migration instead of
// failing.
func (m *Manager) Mint(ctx context.Context, req MintRequest) (MintResult, error) {
	if err := req.validate(); err != nil {
		return MintResult{}, err
	}

	lock := m.logicalLock(req.ClientID, req.LogicalAgentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.FindAgentByLogicalID(ctx, req.ClientID, req.LogicalAgentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return MintResult{}, fmt.Errorf("looking up logical agent: %w", err)
	}
	if existing != nil {
		rec, err := m.migrateLocked(ctx, existing, req.InstanceID, req.AvailabilityZone, req.PoolID)
		if err != nil {
			return MintResult{}, err
		}
		return MintResult{Agent: rec, Migrated: true}, nil
	}

	now := m.now().UTC()
	rec := types.AgentRecord{
		AgentID:          "agt_" + ulid.Make().String(),
		ClientID:         req.ClientID,
		LogicalAgentID:   req.LogicalAgentID,
		InstanceID:       req.InstanceID,
		AvailabilityZone: req.AvailabilityZone,
		PoolID:           req.PoolID,
		InstanceCount:    1,
		Status:           types.AgentOnline,
		Enabled:          true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateAgent(ctx, rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a cross-process race; the winner's row exists now.
			winner, ferr := m.store.FindAgentByLogicalID(ctx, req.ClientID, req.LogicalAgentID)
			if ferr != nil {
				return MintResult{}, fmt.Errorf("resolving mint conflict: %w", ferr)
			}
			migrated, merr := m.migrateLocked(ctx, winner, req.InstanceID, req.AvailabilityZone, req.PoolID)
			if merr != nil {
				return MintResult{}, merr
			}
			return MintResult{Agent: migrated, Migrated: true}, nil
		}
		return MintResult{}, fmt.Errorf("creating agent: %w", err)
	}

	if err := m.store.PutInstance(ctx, types.InstanceRecord{
		AgentID:          rec.AgentID,
		InstanceID:       req.InstanceID,
		AvailabilityZone: req.AvailabilityZone,
		PoolID:           req.PoolID,
		Active:           true,
		LaunchedAt:       now,
	}); err != nil {
		return MintResult{}, fmt.Errorf("recording instance: %w", err)
	}

	metrics.AgentsMinted.Add(1)
	m.recordEvent(ctx, rec.AgentID, types.EventAgentMinted, req.InstanceID)
	m.logger.Info("agent minted",
		"agentId", rec.AgentID, "clientId", req.ClientID, "logicalAgentId", req.LogicalAgentID)
	return MintResult{Agent: rec, IsNew: true}, nil
}

// Migrate moves an existing logical agent onto a new instance. Absence of a
// prior mint is a hard error; that distinguishes migration from minting.
func (m *Manager) Migrate(ctx context.Context, clientID, logicalAgentID, newInstanceID, newAZ, newPoolID string) (types.AgentRecord, error) {
	if clientID == "" || logicalAgentID == "" || newInstanceID == "" {
		return types.AgentRecord{}, fmt.Errorf("%w: clientId, logicalAgentId, and instanceId are required", ErrValidation)
	}

	lock := m.logicalLock(clientID, logicalAgentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.FindAgentByLogicalID(ctx, clientID, logicalAgentID)
	if err != nil {
		return types.AgentRecord{}, fmt.Errorf("looking up logical agent %s/%s: %w", clientID, logicalAgentID, err)
	}
	return m.migrateLocked(ctx, existing, newInstanceID, newAZ, newPoolID)
}

// migrateLocked updates the same agent row in place and rolls the instance
// history. Callers hold the logical id lock.
func (m *Manager) migrateLocked(ctx context.Context, rec *types.AgentRecord, newInstanceID, newAZ, newPoolID string) (types.AgentRecord, error) {
	now := m.now().UTC()

	m.retireActiveInstances(ctx, rec.AgentID, now)

	rec.InstanceID = newInstanceID
	if newAZ != "" {
		rec.AvailabilityZone = newAZ
	}
	if newPoolID != "" {
		rec.PoolID = newPoolID
	}
	rec.InstanceCount++
	rec.Status = types.AgentOnline
	rec.UpdatedAt = now
	if err := m.store.UpdateAgent(ctx, *rec); err != nil {
		return types.AgentRecord{}, fmt.Errorf("updating agent %s: %w", rec.AgentID, err)
	}

	if err := m.store.PutInstance(ctx, types.InstanceRecord{
		AgentID:          rec.AgentID,
		InstanceID:       newInstanceID,
		AvailabilityZone: rec.AvailabilityZone,
		PoolID:           rec.PoolID,
		Active:           true,
		LaunchedAt:       now,
	}); err != nil {
		return types.AgentRecord{}, fmt.Errorf("recording instance: %w", err)
	}

	metrics.AgentsMigrated.Add(1)
	m.recordEvent(ctx, rec.AgentID, types.EventAgentMigrated, newInstanceID)
	m.logger.Info("agent migrated",
		"agentId", rec.AgentID, "instanceId", newInstanceID, "instanceCount", rec.InstanceCount)
	return *rec, nil
}

func (m *Manager) retireActiveInstances(ctx context.Context, agentID string, now time.Time) {
	instances, err := m.store.ListInstances(ctx, agentID)
	if err != nil {
		m.logger.Warn("listing instances failed", "agentId", agentID, "error", err)
		return
	}
	for _, inst := range instances {
		if !inst.Active {
			continue
		}
		inst.Active = false
		inst.RetiredAt = &now
		if err := m.store.PutInstance(ctx, inst); err != nil {
			m.logger.Warn("retiring instance failed",
				"agentId", agentID, "instanceId", inst.InstanceID, "error", err)
		}
	}
}

// CleanupTerminatedAgent marks an agent terminated and disables future
// command delivery. Repeated calls, and calls for unknown agents, succeed.
func (m *Manager) CleanupTerminatedAgent(ctx context.Context, agentID string) error {
	rec, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("looking up agent %s: %w", agentID, err)
	}
	if rec.Status == types.AgentTerminated {
		return nil
	}

	now := m.now().UTC()
	m.retireActiveInstances(ctx, agentID, now)
	rec.Status = types.AgentTerminated
	rec.Enabled = false
	rec.UpdatedAt = now
	if err := m.store.UpdateAgent(ctx, *rec); err != nil {
		return fmt.Errorf("terminating agent %s: %w", agentID, err)
	}
	m.recordEvent(ctx, agentID, types.EventAgentTerminated, rec.InstanceID)
	m.logger.Info("agent terminated", "agentId", agentID)
	return nil
}

// replicaLogicalID derives a replica logical id from the primary's, keyed by
// the tail of the replica's agent id so concurrent replicas never collide.
func replicaLogicalID(primaryLogicalID, replicaAgentID string) string {
	suffix := strings.ToLower(replicaAgentID[len(replicaAgentID)-6:])
	return primaryLogicalID + "+replica-" + suffix
}

func (m *Manager) recordEvent(ctx context.Context, agentID string, kind types.EventKind, instanceID string) {
	evt := types.Event{
		Kind:      kind,
		AgentID:   agentID,
		Message:   instanceID,
		Timestamp: m.now().UTC(),
	}
	if err := m.store.AppendEvent(ctx, evt); err != nil {
		m.logger.Warn("failed to record identity event", "agentId", agentID, "kind", kind, "error", err)
	}
}
