package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// Options configures a Tracker.
type Options struct {
	Store  store.Store
	Logger *slog.Logger
	Now    func() time.Time // injectable for testing
}

// Tracker is the sole owner of command status. All transitions go through it;
// nothing else writes command rows.
type Tracker struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Tracker.
func New(opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{store: opts.Store, logger: opts.Logger, now: opts.Now}
}

// CreateRequest carries the fields needed to enqueue a new command.
type CreateRequest struct {
	AgentID   string
	ClientID  string
	Type      string
	Priority  int
	CreatedBy string
	Trigger   types.TriggerType
	Payload   map[string]interface{}
}

func (r CreateRequest) validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("command missing agentId")
	}
	if r.ClientID == "" {
		return fmt.Errorf("command missing clientId")
	}
	if r.Type == "" {
		return fmt.Errorf("command missing commandType")
	}
	if r.Priority <= 0 {
		return fmt.Errorf("command priority must be positive, got %d", r.Priority)
	}
	return nil
}

// Create validates the request and enqueues a new pending command into the
// agent's mailbox.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (*types.Command, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = types.TriggerManual
	}

	cmd := types.Command{
		ID:        "cmd_" + ulid.Make().String(),
		AgentID:   req.AgentID,
		ClientID:  req.ClientID,
		Type:      req.Type,
		Priority:  req.Priority,
		Status:    types.CommandPending,
		CreatedBy: req.CreatedBy,
		Trigger:   trigger,
		Payload:   req.Payload,
		CreatedAt: t.now().UTC(),
	}

	if err := t.store.PutCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("storing command: %w", err)
	}
	metrics.CommandsCreated.Add(1)
	t.logger.Info("command created",
		"commandId", cmd.ID, "agentId", cmd.AgentID, "type", cmd.Type, "priority", cmd.Priority)
	t.recordEvent(ctx, cmd, types.EventCommandCreated, string(types.CommandPending), "")
	return &cmd, nil
}

// MarkExecuting claims a pending command for execution. Exactly one of any
// number of racing callers observes true.
func (t *Tracker) MarkExecuting(ctx context.Context, id string) (bool, error) {
	executedAt := t.now().UTC()
	claimed, err := t.store.UpdateCommandStatus(ctx, id,
		[]types.CommandStatus{types.CommandPending},
		types.CommandExecuting,
		types.CommandUpdate{ExecutedAt: &executedAt})
	if err != nil {
		return false, fmt.Errorf("claiming command %s: %w", id, err)
	}
	if !claimed {
		metrics.CommandClaimsLost.Add(1)
		t.logger.Debug("command claim lost", "commandId", id)
		return false, nil
	}
	t.transitionEvent(ctx, id, types.CommandExecuting, "")
	return true, nil
}

// MarkCompleted records successful execution. A pending command may complete
// directly; agents that executed a command before acking the claim still get
// their result recorded.
func (t *Tracker) MarkCompleted(ctx context.Context, id string, result map[string]interface{}) (bool, error) {
	completedAt := t.now().UTC()
	ok, err := t.store.UpdateCommandStatus(ctx, id,
		[]types.CommandStatus{types.CommandPending, types.CommandExecuting},
		types.CommandCompleted,
		types.CommandUpdate{ExecutionResult: result, CompletedAt: &completedAt})
	if err != nil {
		return false, fmt.Errorf("completing command %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}
	metrics.CommandsCompleted.Add(1)
	t.transitionEvent(ctx, id, types.CommandCompleted, "")
	return true, nil
}

// MarkFailed records a failed execution. Only an executing command can fail;
// the tracker records the error and the retry recommendation but never
// retries on its own.
func (t *Tracker) MarkFailed(ctx context.Context, id string, errorMessage string, retryRecommended bool) (bool, error) {
	completedAt := t.now().UTC()
	ok, err := t.store.UpdateCommandStatus(ctx, id,
		[]types.CommandStatus{types.CommandExecuting},
		types.CommandFailed,
		types.CommandUpdate{
			ErrorMessage:     errorMessage,
			RetryRecommended: retryRecommended,
			CompletedAt:      &completedAt,
		})
	if err != nil {
		return false, fmt.Errorf("failing command %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}
	metrics.CommandsFailed.Add(1)
	t.logger.Warn("command failed",
		"commandId", id, "error", errorMessage, "retryRecommended", retryRecommended)
	t.transitionEvent(ctx, id, types.CommandFailed, errorMessage)
	return true, nil
}

// Cancel withdraws a command that has not been claimed yet.
func (t *Tracker) Cancel(ctx context.Context, id string) (bool, error) {
	completedAt := t.now().UTC()
	ok, err := t.store.UpdateCommandStatus(ctx, id,
		[]types.CommandStatus{types.CommandPending},
		types.CommandCancelled,
		types.CommandUpdate{CompletedAt: &completedAt})
	if err != nil {
		return false, fmt.Errorf("cancelling command %s: %w", id, err)
	}
	if ok {
		t.transitionEvent(ctx, id, types.CommandCancelled, "")
	}
	return ok, nil
}

// Get returns a single command by ID.
func (t *Tracker) Get(ctx context.Context, id string) (*types.Command, error) {
	return t.store.GetCommand(ctx, id)
}

// GetPending returns an agent's unclaimed commands in delivery order:
// priority descending, then creation time ascending within a priority.
func (t *Tracker) GetPending(ctx context.Context, agentID string, limit int) ([]types.Command, error) {
	return t.store.ListPendingCommands(ctx, agentID, limit)
}

// History returns commands matching the filter, most recent first.
func (t *Tracker) History(ctx context.Context, filter types.CommandFilter) ([]types.Command, error) {
	return t.store.ListCommands(ctx, filter)
}

// recordEvent appends an audit event for a command. Event failures are logged
// and swallowed; the audit trail never blocks a transition.
func (t *Tracker) recordEvent(ctx context.Context, cmd types.Command, kind types.EventKind, status, message string) {
	evt := types.Event{
		Kind:      kind,
		AgentID:   cmd.AgentID,
		CommandID: cmd.ID,
		Status:    status,
		Message:   message,
		Timestamp: t.now().UTC(),
	}
	if err := t.store.AppendEvent(ctx, evt); err != nil {
		t.logger.Warn("failed to record command event", "commandId", cmd.ID, "kind", kind, "error", err)
	}
}

func (t *Tracker) transitionEvent(ctx context.Context, id string, to types.CommandStatus, message string) {
	cmd, err := t.store.GetCommand(ctx, id)
	if err != nil {
		t.logger.Warn("failed to load command for event", "commandId", id, "error", err)
		return
	}
	t.recordEvent(ctx, *cmd, types.EventCommandTransitioned, string(to), message)
}
