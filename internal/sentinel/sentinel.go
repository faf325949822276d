// Package sentinel is the sole ingestion path for interruption-class signals
// and agent health. Remediation is delegated to externally registered
// callback slots; the sentinel invokes them but never implements them.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// ErrValidation marks synchronous rejections with no side effect.
var ErrValidation = errors.New("validation error")

const (
	defaultDedupWindow     = 15 * time.Minute
	defaultRateLimitWindow = 10 * time.Second
	defaultRateThreshold   = 3
	defaultRateDelay       = 2 * time.Second

	// Backoff beyond this is logged loudly; the delay itself is deliberately
	// uncapped so a mass interruption stays observable in its full size.
	backoffWarnThreshold = 30 * time.Second
)

// Callback slots. Signal types map onto one of these two remediation slots.
const (
	SlotRebalance   = "rebalance"
	SlotTermination = "termination"
)

// Callback is an externally registered remediation handler. Its return value
// is passed through the signal result unchanged.
type Callback func(ctx context.Context, agentID, instanceID string, detectedAt time.Time, metadata map[string]interface{}) (interface{}, error)

// SignalResult reports what processing a signal did. Duplicate and
// rate-limited are normal operating conditions, not errors.
type SignalResult struct {
	Duplicate      bool
	RateLimited    bool
	Delayed        time.Duration
	Persisted      bool
	CallbackResult interface{}
	CallbackErr    error
}

// Options configures a Sentinel.
type Options struct {
	Store           store.Store
	Logger          *slog.Logger
	AlertFn         func(types.Alert)
	DedupWindow     time.Duration
	RateLimitWindow time.Duration
	RateThreshold   int
	RateDelay       time.Duration // per-count backoff unit
	Now             func() time.Time
	Sleep           func(time.Duration) // injectable for testing
}

// Sentinel owns signal dedup and the per-signal-type rate-limit windows.
type Sentinel struct {
	store         store.Store
	logger        *slog.Logger
	alertFn       func(types.Alert)
	dedupWindow   time.Duration
	rateWindow    time.Duration
	rateThreshold int
	rateDelay     time.Duration
	now           func() time.Time
	sleep         func(time.Duration)

	mu        sync.Mutex // guards windows and callbacks
	windows   map[types.SignalType][]time.Time
	callbacks map[string]Callback
}

// New creates a Sentinel.
func New(opts Options) *Sentinel {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = defaultRateLimitWindow
	}
	if opts.RateThreshold <= 0 {
		opts.RateThreshold = defaultRateThreshold
	}
	if opts.RateDelay <= 0 {
		opts.RateDelay = defaultRateDelay
	}
	return &Sentinel{
		store:         opts.Store,
		logger:        opts.Logger,
		alertFn:       opts.AlertFn,
		dedupWindow:   opts.DedupWindow,
		rateWindow:    opts.RateLimitWindow,
		rateThreshold: opts.RateThreshold,
		rateDelay:     opts.RateDelay,
		now:           opts.Now,
		sleep:         opts.Sleep,
		windows:       make(map[types.SignalType][]time.Time),
		callbacks:     make(map[string]Callback),
	}
}

// RegisterCallback installs a remediation handler into one of the two slots.
func (s *Sentinel) RegisterCallback(slot string, cb Callback) error {
	if slot != SlotRebalance && slot != SlotTermination {
		return fmt.Errorf("unknown callback slot %q", slot)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[slot] = cb
	return nil
}

// slotFor maps a signal type to its remediation slot.
func slotFor(t types.SignalType) string {
	if t == types.SignalRebalanceRecommendation {
		return SlotRebalance
	}
	return SlotTermination
}

// severityFor maps a signal type to its alert level.
func severityFor(t types.SignalType) types.AlertLevel {
	switch t {
	case types.SignalSpotInterruption:
		return types.AlertLevelCritical
	case types.SignalTerminationNotice:
		return types.AlertLevelError
	default:
		return types.AlertLevelWarning
	}
}

// ProcessInterruptionSignal runs the full signal pipeline: dedup against the
// durable tier, staggered rate-limit backoff, persist, notify, remediate.
func (s *Sentinel) ProcessInterruptionSignal(ctx context.Context, sig types.InterruptionSignal) (SignalResult, error) {
	if sig.AgentID == "" {
		return SignalResult{}, fmt.Errorf("%w: missing agentId", ErrValidation)
	}
	if sig.InstanceID == "" {
		return SignalResult{}, fmt.Errorf("%w: missing instanceId", ErrValidation)
	}
	if !types.ValidSignalType(sig.Type) {
		return SignalResult{}, fmt.Errorf("%w: unknown signal type %q", ErrValidation, sig.Type)
	}
	if sig.DetectedAt.IsZero() {
		sig.DetectedAt = s.now().UTC()
	}

	// Duplicate suppression against the persisted tier. Duplicates are
	// rejected outright, never merged.
	latest, err := s.store.LatestSignal(ctx, sig.AgentID, sig.Type)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return SignalResult{}, fmt.Errorf("looking up latest signal: %w", err)
	}
	if latest != nil && sig.DetectedAt.Sub(latest.DetectedAt) <= s.dedupWindow {
		metrics.SignalsDeduplicated.Add(1)
		s.recordEvent(ctx, sig, types.EventSignalDeduplicated, "")
		s.logger.Info("duplicate signal suppressed",
			"agentId", sig.AgentID, "signalType", sig.Type, "previous", latest.DetectedAt)
		return SignalResult{Duplicate: true}, nil
	}

	result := SignalResult{}
	if delay := s.backoff(sig.Type); delay > 0 {
		result.RateLimited = true
		result.Delayed = delay
		metrics.SignalsRateLimited.Add(1)
		s.recordEvent(ctx, sig, types.EventSignalRateLimited, delay.String())
		if delay > backoffWarnThreshold {
			s.logger.Warn("signal burst backoff exceeds threshold",
				"signalType", sig.Type, "delay", delay)
		}
		s.sleep(delay)
	}

	if err := s.store.PutSignal(ctx, sig); err != nil {
		return result, fmt.Errorf("persisting signal: %w", err)
	}
	result.Persisted = true
	metrics.SignalsProcessed.Add(1)
	s.recordEvent(ctx, sig, types.EventSignalAccepted, "")
	s.touchAgentInterruption(ctx, sig)

	if s.alertFn != nil {
		s.alertFn(types.Alert{
			Level:      severityFor(sig.Type),
			AgentID:    sig.AgentID,
			SignalType: sig.Type,
			Message:    fmt.Sprintf("interruption signal %s on instance %s", sig.Type, sig.InstanceID),
			Details:    sig.Metadata,
			Timestamp:  s.now().UTC(),
		})
	}

	s.mu.Lock()
	cb := s.callbacks[slotFor(sig.Type)]
	s.mu.Unlock()
	if cb != nil {
		out, cbErr := cb(ctx, sig.AgentID, sig.InstanceID, sig.DetectedAt, sig.Metadata)
		result.CallbackResult = out
		result.CallbackErr = cbErr
		if cbErr != nil {
			s.logger.Error("remediation callback failed",
				"slot", slotFor(sig.Type), "agentId", sig.AgentID, "error", cbErr)
		}
	}

	s.recordWindow(sig.Type)
	return result, nil
}

// backoff prunes the type's sliding window and returns the delay to apply,
// zero if the burst threshold has not been reached. Only the window scan
// holds the lock; the sleep itself never blocks other signal types.
func (s *Sentinel) backoff(t types.SignalType) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.rateWindow)
	window := s.windows[t][:0]
	for _, ts := range s.windows[t] {
		if ts.After(cutoff) {
			window = append(window, ts)
		}
	}
	s.windows[t] = window
	if len(window) >= s.rateThreshold {
		return time.Duration(len(window)) * s.rateDelay
	}
	return 0
}

func (s *Sentinel) recordWindow(t types.SignalType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[t] = append(s.windows[t], s.now())
}

// touchAgentInterruption bumps the agent's interruption bookkeeping. An
// unknown agent is not an error; signals can arrive before minting completes.
func (s *Sentinel) touchAgentInterruption(ctx context.Context, sig types.InterruptionSignal) {
	rec, err := s.store.GetAgent(ctx, sig.AgentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("agent lookup failed", "agentId", sig.AgentID, "error", err)
		}
		return
	}
	now := s.now().UTC()
	rec.LastInterruptionAt = &now
	rec.InterruptionCount++
	rec.UpdatedAt = now
	if err := s.store.UpdateAgent(ctx, *rec); err != nil {
		s.logger.Warn("agent interruption update failed", "agentId", sig.AgentID, "error", err)
	}
}

func (s *Sentinel) recordEvent(ctx context.Context, sig types.InterruptionSignal, kind types.EventKind, message string) {
	evt := types.Event{
		Kind:      kind,
		AgentID:   sig.AgentID,
		Status:    string(sig.Type),
		Message:   message,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record signal event", "agentId", sig.AgentID, "kind", kind, "error", err)
	}
}
