package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// ErrContractViolation marks a caller-side contract breach: missing required
// input keys are surfaced, never silently defaulted.
var ErrContractViolation = errors.New("decision contract violation")

const defaultHistoryLimit = 20

// syntheticInput is the fixed smoke-test input every candidate engine must
// answer correctly before promotion.
var syntheticInput = types.DecisionInput{
	AgentID:       "smoke-test",
	InstanceType:  "m5.large",
	Region:        "us-east-1",
	CurrentMode:   "spot",
	CurrentPoolID: "m5.large/us-east-1a",
	SpotPrice:     0.035,
	OnDemandPrice: 0.096,
	PriceHistory7d: []types.PriceSnapshot{
		{PoolID: "m5.large/us-east-1a", Price: 0.034, CapturedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Quality: types.QualityActual},
		{PoolID: "m5.large/us-east-1a", Price: 0.036, CapturedAt: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), Quality: types.QualityActual},
	},
	InterruptionHistory: []types.InterruptionSignal{},
}

// Options configures a Manager.
type Options struct {
	Registry     *Registry
	Logger       *slog.Logger
	Store        store.Store // optional, audit events only
	Fallback     string      // default "rules"
	HistoryLimit int
	Now          func() time.Time
}

type activeEngine struct {
	engine Engine
	status types.EngineStatus
}

// Manager owns the active engine pointer. Reads are lock-free; loads and
// reloads serialize on a mutex so promotion is atomic.
type Manager struct {
	registry     *Registry
	logger       *slog.Logger
	store        store.Store
	fallbackName string
	historyLimit int
	now          func() time.Time

	active atomic.Pointer[activeEngine]

	mu      sync.Mutex // serializes Load/Reload and guards history
	history []types.EngineRegistration
}

// NewManager creates a Manager. No engine is active until Load succeeds.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fallback == "" {
		opts.Fallback = RulesEngineName
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Manager{
		registry:     opts.Registry,
		logger:       opts.Logger,
		store:        opts.Store,
		fallbackName: opts.Fallback,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
	}
}

// Load validates and promotes the named engine. A candidate that fails the
// smoke test is rejected atomically: the previously active engine stays
// untouched, and the designated fallback is promoted instead (unless the
// candidate was the fallback itself). The returned error reports the
// rejection even when the fallback took over; check Active for the outcome.
func (m *Manager) Load(ctx context.Context, name string, forceReload bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, name, forceReload)
}

func (m *Manager) loadLocked(ctx context.Context, name string, forceReload bool) error {
	if current := m.active.Load(); current != nil && current.engine.Type() == name && !forceReload {
		return nil
	}

	candidate, err := m.validateCandidate(ctx, name)
	if err == nil {
		m.promote(ctx, candidate, types.EngineActive, "")
		return nil
	}

	metrics.EngineLoadsRejected.Add(1)
	m.recordRegistration(ctx, types.EngineRegistration{
		EngineType: name,
		Status:     types.EngineUnloaded,
		LoadedAt:   m.now().UTC(),
		Reason:     err.Error(),
	}, types.EventEngineRejected)
	m.logger.Error("engine rejected", "engine", name, "error", err)

	if name == m.fallbackName {
		return fmt.Errorf("loading engine %q: %w", name, err)
	}

	fallback, fbErr := m.validateCandidate(ctx, m.fallbackName)
	if fbErr != nil {
		m.logger.Error("fallback engine rejected, no engine active until a future load succeeds",
			"fallback", m.fallbackName, "error", fbErr)
		return fmt.Errorf("loading engine %q: %w (fallback %q also failed: %v)", name, err, m.fallbackName, fbErr)
	}
	m.promote(ctx, fallback, types.EngineActiveFallback, fmt.Sprintf("promoted after %s was rejected", name))
	return fmt.Errorf("loading engine %q: %w (fallback %q active)", name, err, m.fallbackName)
}

// validateCandidate instantiates the named engine and smoke-tests it against
// the fixed synthetic input. Panics, errors, and non-conforming outputs all
// reject the candidate.
func (m *Manager) validateCandidate(ctx context.Context, name string) (Engine, error) {
	candidate, err := m.registry.New(name)
	if err != nil {
		return nil, err
	}
	output, err := safeDecide(ctx, candidate, syntheticInput)
	if err != nil {
		return nil, fmt.Errorf("smoke test: %w", err)
	}
	if err := output.Validate(); err != nil {
		return nil, fmt.Errorf("smoke test output: %w", err)
	}
	return candidate, nil
}

// promote atomically swaps the active engine. Callers hold mu.
func (m *Manager) promote(ctx context.Context, eng Engine, status types.EngineStatus, reason string) {
	m.active.Store(&activeEngine{engine: eng, status: status})
	metrics.EngineLoads.Add(1)
	m.recordRegistration(ctx, types.EngineRegistration{
		EngineType: eng.Type(),
		Version:    eng.Version(),
		Status:     status,
		LoadedAt:   m.now().UTC(),
		Reason:     reason,
	}, eventFor(status))
	m.logger.Info("engine promoted", "engine", eng.Type(), "version", eng.Version(), "status", status)
}

func eventFor(status types.EngineStatus) types.EventKind {
	if status == types.EngineActiveFallback {
		return types.EventEngineFallback
	}
	return types.EventEngineLoaded
}

// Reload force-reloads the named engine, taking a backup of the current
// engine first and restoring it verbatim on any failure. A failed hot-reload
// never leaves the system without a working engine.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := m.active.Load()
	candidate, err := m.validateCandidate(ctx, name)
	if err != nil {
		m.active.Store(backup)
		metrics.EngineLoadsRejected.Add(1)
		m.recordRegistration(ctx, types.EngineRegistration{
			EngineType: name,
			Status:     types.EngineUnloaded,
			LoadedAt:   m.now().UTC(),
			Reason:     err.Error(),
		}, types.EventEngineRejected)
		m.logger.Error("reload rejected, previous engine restored", "engine", name, "error", err)
		return fmt.Errorf("reloading engine %q: %w", name, err)
	}
	m.promote(ctx, candidate, types.EngineActive, "hot reload")
	return nil
}

// Decide invokes the active engine with the caller's input. Engine panics
// and errors become the safe default; a non-conforming real output is logged
// as a contract violation and substituted, never passed through.
func (m *Manager) Decide(ctx context.Context, input types.DecisionInput) (types.DecisionOutput, error) {
	if err := input.Validate(); err != nil {
		return types.DecisionOutput{}, fmt.Errorf("%w: %v", ErrContractViolation, err)
	}
	metrics.DecisionsTotal.Add(1)

	act := m.active.Load()
	if act == nil {
		metrics.DecisionsFallback.Add(1)
		output := types.SafeDefaultDecision("no active engine")
		m.recordDecision(ctx, input, output, "")
		return output, nil
	}

	output, err := safeDecide(ctx, act.engine, input)
	if err != nil {
		metrics.DecisionsFallback.Add(1)
		m.logger.Error("engine runtime failure, substituting safe default",
			"engine", act.engine.Type(), "agentId", input.AgentID, "error", err)
		output = types.SafeDefaultDecision("engine error")
	} else if verr := output.Validate(); verr != nil {
		metrics.DecisionsFallback.Add(1)
		m.logger.Error("engine output violates contract, substituting safe default",
			"engine", act.engine.Type(), "agentId", input.AgentID, "error", verr)
		output = types.SafeDefaultDecision("engine error")
	}

	m.recordDecision(ctx, input, output, act.engine.Type())
	return output, nil
}

// safeDecide converts an engine panic into an error at the boundary.
func safeDecide(ctx context.Context, eng Engine, input types.DecisionInput) (output types.DecisionOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return eng.Decide(ctx, input)
}

// Active returns the current engine's type, version, and status.
func (m *Manager) Active() (string, string, types.EngineStatus, bool) {
	act := m.active.Load()
	if act == nil {
		return "", "", types.EngineUnloaded, false
	}
	return act.engine.Type(), act.engine.Version(), act.status, true
}

// History returns the bounded registration history, newest first.
func (m *Manager) History() []types.EngineRegistration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.EngineRegistration, len(m.history))
	copy(out, m.history)
	return out
}

// recordRegistration prepends to the bounded history. Callers hold mu.
func (m *Manager) recordRegistration(ctx context.Context, reg types.EngineRegistration, kind types.EventKind) {
	m.history = append([]types.EngineRegistration{reg}, m.history...)
	if len(m.history) > m.historyLimit {
		m.history = m.history[:m.historyLimit]
	}
	if m.store == nil {
		return
	}
	evt := types.Event{
		Kind:      kind,
		Status:    string(reg.Status),
		Message:   fmt.Sprintf("engine %s %s", reg.EngineType, reg.Version),
		Details:   map[string]interface{}{"reason": reg.Reason},
		Timestamp: reg.LoadedAt,
	}
	if err := m.store.AppendEvent(ctx, evt); err != nil {
		m.logger.Warn("failed to record engine event", "engine", reg.EngineType, "error", err)
	}
}

func (m *Manager) recordDecision(ctx context.Context, input types.DecisionInput, output types.DecisionOutput, engineType string) {
	if m.store == nil {
		return
	}
	evt := types.Event{
		Kind:    types.EventDecisionMade,
		AgentID: input.AgentID,
		PoolID:  input.CurrentPoolID,
		Status:  string(output.Decision),
		Message: output.Reasoning,
		Details: map[string]interface{}{
			"engine":     engineType,
			"confidence": output.Confidence,
			"riskScore":  output.RiskScore,
		},
		Timestamp: m.now().UTC(),
	}
	if err := m.store.AppendEvent(ctx, evt); err != nil {
		m.logger.Warn("failed to record decision event", "agentId", input.AgentID, "error", err)
	}
}
