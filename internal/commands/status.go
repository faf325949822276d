package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gridshift-io/gridshift/internal/config"
	"github.com/gridshift-io/gridshift/internal/sentinel"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "status [agent-id]",
		Short: "Show fleet status and recent activity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				agentID = args[0]
			}
			return runStatus(agentID)
		},
	}
	return cmd
}

func runStatus(agentID string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer func() { _ = st.Stop(ctx) }()

	if agentID != "" {
		return showAgentStatus(ctx, st, agentID)
	}
	return showFleet(ctx, st)
}

func showFleet(ctx context.Context, st store.Store) error {
	agents, err := st.ListAgents(ctx, false)
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}

	bold := color.New(color.Bold)
	_, _ = bold.Println("Fleet:")
	fmt.Println()

	for _, a := range agents {
		fmt.Printf("  %-32s %-18s pool=%-24s instances=%d interruptions=%d\n",
			a.AgentID, agentStatusString(a.Status), a.PoolID, a.InstanceCount, a.InterruptionCount)
	}
	fmt.Println()
	return nil
}

func showAgentStatus(ctx context.Context, st store.Store, agentID string) error {
	agent, err := st.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("agent not found: %w", err)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Agent: %s\n", agent.AgentID)
	fmt.Printf("  Client:    %s\n", agent.ClientID)
	fmt.Printf("  Logical:   %s\n", agent.LogicalAgentID)
	fmt.Printf("  Instance:  %s (%s)\n", agent.InstanceID, agent.AvailabilityZone)
	fmt.Printf("  Pool:      %s\n", agent.PoolID)
	fmt.Printf("  Status:    %s\n", agentStatusString(agent.Status))

	// Health snapshot via a read-only sentinel.
	sent := sentinel.New(sentinel.Options{Store: st})
	if report, err := sent.CheckAgentHealth(ctx, agentID); err == nil {
		fmt.Println()
		_, _ = bold.Println("  Health:")
		fmt.Printf("    Score:          %d\n", report.Score)
		fmt.Printf("    Recommendation: %s\n", report.Recommendation)
		for _, issue := range report.Issues {
			color.Yellow("    ! %s", issue)
		}
	}

	cmds, _ := st.ListCommands(ctx, types.CommandFilter{AgentID: agentID, Limit: 5})
	if len(cmds) > 0 {
		fmt.Println()
		_, _ = bold.Println("  Recent Commands:")
		for _, c := range cmds {
			statusStr := string(c.Status)
			switch c.Status {
			case types.CommandCompleted:
				statusStr = color.GreenString(statusStr)
			case types.CommandFailed:
				statusStr = color.RedString(statusStr)
			case types.CommandExecuting:
				statusStr = color.CyanString(statusStr)
			}
			fmt.Printf("    %s  %-20s %s  %s\n", c.ID, c.Type, statusStr, c.CreatedAt.Format(time.RFC3339))
		}
	}

	events, _ := st.ListEvents(ctx, agentID, 5)
	if len(events) > 0 {
		fmt.Println()
		_, _ = bold.Println("  Recent Events:")
		for _, ev := range events {
			fmt.Printf("    %-24s %s  %s\n", ev.Kind, ev.Message, ev.Timestamp.Format(time.RFC3339))
		}
	}

	fmt.Println()
	return nil
}

func agentStatusString(status types.AgentStatus) string {
	switch status {
	case types.AgentOnline:
		return color.GreenString("ONLINE")
	case types.AgentDegraded:
		return color.YellowString("DEGRADED")
	case types.AgentOffline:
		return color.RedString("OFFLINE")
	case types.AgentTerminated:
		return color.New(color.Faint).Sprint("TERMINATED")
	default:
		return string(status)
	}
}
