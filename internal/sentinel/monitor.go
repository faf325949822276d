package sentinel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/pkg/types"
)

const (
	heartbeatDegradedAfter = 180 * time.Second
	heartbeatOfflineAfter  = 600 * time.Second
	priceStaleAfter        = 300 * time.Second

	degradedPenalty   = 50
	priceStalePenalty = 30

	tierContinue = 80
	tierClosely  = 50

	defaultMonitorInterval = 60 * time.Second
	monitorConcurrency     = 8
)

// CheckAgentHealth scores one agent: 100 minus additive penalties for
// heartbeat age and price-report staleness, floored at zero. An offline
// agent scores zero outright.
func (s *Sentinel) CheckAgentHealth(ctx context.Context, agentID string) (types.HealthReport, error) {
	rec, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return types.HealthReport{}, err
	}
	metrics.HealthChecksTotal.Add(1)

	now := s.now().UTC()
	report := types.HealthReport{
		AgentID:   agentID,
		Status:    types.AgentOnline,
		Score:     100,
		CheckedAt: now,
	}

	hbRef := rec.CreatedAt
	if rec.LastHeartbeatAt != nil {
		hbRef = *rec.LastHeartbeatAt
	}
	hbAge := now.Sub(hbRef)

	switch {
	case hbAge > heartbeatOfflineAfter:
		report.Status = types.AgentOffline
		report.Score = 0
		report.Issues = append(report.Issues, fmt.Sprintf("no heartbeat for %s", hbAge.Round(time.Second)))
	case hbAge > heartbeatDegradedAfter:
		report.Status = types.AgentDegraded
		report.Score -= degradedPenalty
		report.Issues = append(report.Issues, fmt.Sprintf("heartbeat stale for %s", hbAge.Round(time.Second)))
	}

	if report.Status != types.AgentOffline {
		priceRef := rec.CreatedAt
		if rec.LastPriceReportAt != nil {
			priceRef = *rec.LastPriceReportAt
		}
		if priceAge := now.Sub(priceRef); priceAge > priceStaleAfter {
			report.Score -= priceStalePenalty
			report.Issues = append(report.Issues, fmt.Sprintf("no price report for %s", priceAge.Round(time.Second)))
		}
	}

	if report.Score < 0 {
		report.Score = 0
	}

	switch {
	case report.Score >= tierContinue:
		report.Recommendation = types.HealthContinueMonitoring
	case report.Score >= tierClosely:
		report.Recommendation = types.HealthMonitorClosely
	default:
		report.Recommendation = types.HealthInvestigateImmediately
	}
	return report, nil
}

// MonitorAllAgents evaluates every enabled agent once and raises one health
// alert per degraded or offline agent.
func (s *Sentinel) MonitorAllAgents(ctx context.Context) ([]types.HealthReport, error) {
	agents, err := s.store.ListAgents(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	var (
		reportsMu sync.Mutex
		reports   = make([]types.HealthReport, 0, len(agents))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monitorConcurrency)
	for _, agent := range agents {
		agent := agent
		g.Go(func() error {
			report, err := s.CheckAgentHealth(gctx, agent.AgentID)
			if err != nil {
				return fmt.Errorf("checking %s: %w", agent.AgentID, err)
			}
			if report.Status == types.AgentDegraded || report.Status == types.AgentOffline {
				s.raiseHealthAlert(gctx, report)
			}
			reportsMu.Lock()
			reports = append(reports, report)
			reportsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (s *Sentinel) raiseHealthAlert(ctx context.Context, report types.HealthReport) {
	metrics.HealthAlertsRaised.Add(1)
	level := types.AlertLevelWarning
	if report.Status == types.AgentOffline {
		level = types.AlertLevelError
	}
	if s.alertFn != nil {
		s.alertFn(types.Alert{
			Level:   level,
			AgentID: report.AgentID,
			Message: fmt.Sprintf("agent %s is %s (score %d)", report.AgentID, report.Status, report.Score),
			Details: map[string]interface{}{
				"score":          report.Score,
				"issues":         report.Issues,
				"recommendation": string(report.Recommendation),
			},
			Timestamp: report.CheckedAt,
		})
	}
	evt := types.Event{
		Kind:      types.EventHealthAlert,
		AgentID:   report.AgentID,
		Status:    string(report.Status),
		Message:   fmt.Sprintf("health score %d", report.Score),
		Timestamp: report.CheckedAt,
	}
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record health event", "agentId", report.AgentID, "error", err)
	}
}

// Monitor runs MonitorAllAgents on a fixed interval until stopped.
type Monitor struct {
	sentinel *Sentinel
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewMonitor creates a background fleet monitor.
func NewMonitor(sentinel *Sentinel, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &Monitor{sentinel: sentinel, interval: interval}
}

// Start begins the monitor background loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.sentinel.logger.Info("fleet monitor started", "interval", m.interval)
}

// Stop signals the monitor to stop and waits for it to finish.
func (m *Monitor) Stop(_ context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.sentinel.logger.Info("fleet monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Run once immediately on start
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if _, err := m.sentinel.MonitorAllAgents(ctx); err != nil && ctx.Err() == nil {
		m.sentinel.logger.Error("fleet monitor pass failed", "error", err)
	}
}
