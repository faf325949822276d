// Package store defines the persistence backend interface for Gridshift.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// Sentinel errors surfaced by Store implementations. Callers distinguish
// these from transient store failures, which are propagated as-is.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a conditional insert hit an existing row
	// (uniqueness constraint).
	ErrConflict = errors.New("already exists")
)

// Store is the persistence backend. It must support row-level conditional
// updates and uniqueness constraints; everything else about the schema is an
// implementation detail.
type Store interface {
	// Price time series (rolling window)
	PutPriceSnapshot(ctx context.Context, snap types.PriceSnapshot) error
	PutPriceSnapshots(ctx context.Context, snaps []types.PriceSnapshot) error
	LatestPriceSnapshot(ctx context.Context, poolID string) (*types.PriceSnapshot, error)
	ListPriceSnapshots(ctx context.Context, poolID string, since time.Time) ([]types.PriceSnapshot, error)
	PurgePriceSnapshots(ctx context.Context, poolID string, olderThan time.Time) (int, error)
	ListPoolIDs(ctx context.Context) ([]string, error)

	// Permanent tier — never retention-purged
	PutPermanentRecord(ctx context.Context, rec types.PermanentRecord) error

	// Interruption signals (durable tier)
	PutSignal(ctx context.Context, sig types.InterruptionSignal) error
	LatestSignal(ctx context.Context, agentID string, signalType types.SignalType) (*types.InterruptionSignal, error)
	ListSignals(ctx context.Context, agentID string, since time.Time) ([]types.InterruptionSignal, error)

	// Commands. UpdateCommandStatus is a conditional update: it succeeds and
	// returns true only when the stored status is one of expect. Racing
	// writers observe exactly one success.
	PutCommand(ctx context.Context, cmd types.Command) error
	GetCommand(ctx context.Context, id string) (*types.Command, error)
	UpdateCommandStatus(ctx context.Context, id string, expect []types.CommandStatus, to types.CommandStatus, update types.CommandUpdate) (bool, error)
	ListPendingCommands(ctx context.Context, agentID string, limit int) ([]types.Command, error)
	ListCommands(ctx context.Context, filter types.CommandFilter) ([]types.Command, error)

	// Agent identity. CreateAgent enforces uniqueness on (clientID,
	// logicalAgentID) and returns ErrConflict when a non-replaced row exists.
	CreateAgent(ctx context.Context, rec types.AgentRecord) error
	GetAgent(ctx context.Context, agentID string) (*types.AgentRecord, error)
	FindAgentByLogicalID(ctx context.Context, clientID, logicalAgentID string) (*types.AgentRecord, error)
	UpdateAgent(ctx context.Context, rec types.AgentRecord) error
	ListAgents(ctx context.Context, onlyEnabled bool) ([]types.AgentRecord, error)
	DeleteAgent(ctx context.Context, agentID string) error
	PutInstance(ctx context.Context, inst types.InstanceRecord) error
	ListInstances(ctx context.Context, agentID string) ([]types.InstanceRecord, error)

	// Replicas
	PutReplica(ctx context.Context, rep types.ReplicaRecord) error
	GetReplica(ctx context.Context, replicaAgentID string) (*types.ReplicaRecord, error)
	ListReplicas(ctx context.Context, primaryAgentID string) ([]types.ReplicaRecord, error)
	DeleteReplica(ctx context.Context, replicaAgentID string) error

	// Event log — append-only audit trail
	AppendEvent(ctx context.Context, event types.Event) error
	ListEvents(ctx context.Context, agentID string, limit int) ([]types.Event, error)

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
