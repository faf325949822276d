package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gridshift-io/gridshift/internal/config"
	"github.com/gridshift-io/gridshift/internal/identity"
)

// NewAgentCmd creates the agent command group for operator-driven identity
// actions.
func NewAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Operate on agent identities",
	}
	cmd.AddCommand(newAgentCleanupCmd(), newAgentPromoteCmd())
	return cmd
}

func newAgentCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <agent-id>",
		Short: "Mark a terminated agent and disable command delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(func(ctx context.Context, mgr *identity.Manager) error {
				if err := mgr.CleanupTerminatedAgent(ctx, args[0]); err != nil {
					return err
				}
				color.Green("Agent %s terminated", args[0])
				return nil
			})
		},
	}
}

func newAgentPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <replica-agent-id>",
		Short: "Promote a ready replica to be its primary's live instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(func(ctx context.Context, mgr *identity.Manager) error {
				primary, err := mgr.PromoteReplica(ctx, args[0])
				if err != nil {
					return err
				}
				color.Green("Replica promoted; %s now runs on %s", primary.AgentID, primary.InstanceID)
				return nil
			})
		},
	}
}

func withIdentity(fn func(context.Context, *identity.Manager) error) error {
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

	return fn(ctx, identity.New(identity.Options{Store: st}))
}
