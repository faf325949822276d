package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gridshift-io/gridshift/internal/alert"
	"github.com/gridshift-io/gridshift/internal/config"
	"github.com/gridshift-io/gridshift/internal/sentinel"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// NewMonitorCmd creates the monitor command, a one-shot fleet health pass.
func NewMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run a single fleet health check pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor()
		},
	}
}

func runMonitor() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer func() { _ = st.Stop(ctx) }()

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, slog.Default())
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}

	sent := sentinel.New(sentinel.Options{Store: st, AlertFn: dispatcher.AlertFunc()})
	reports, err := sent.MonitorAllAgents(ctx)
	if err != nil {
		return fmt.Errorf("monitoring fleet: %w", err)
	}

	if len(reports) == 0 {
		fmt.Println("No enabled agents to monitor.")
		return nil
	}

	for _, r := range reports {
		switch r.Status {
		case types.AgentOnline:
			color.Green("  ✓ %-32s score=%d %s", r.AgentID, r.Score, r.Recommendation)
		case types.AgentDegraded:
			color.Yellow("  ! %-32s score=%d %s", r.AgentID, r.Score, r.Recommendation)
		default:
			color.Red("  ✗ %-32s score=%d %s", r.AgentID, r.Score, r.Recommendation)
		}
	}
	return nil
}
