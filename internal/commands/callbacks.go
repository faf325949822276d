package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridshift-io/gridshift/internal/sentinel"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/internal/store/dynamodb"
	"github.com/gridshift-io/gridshift/internal/tracker"
	"github.com/gridshift-io/gridshift/internal/valve"
	"github.com/gridshift-io/gridshift/pkg/types"
)

func newStore(cfg *types.ProjectConfig) (store.Store, error) {
	return dynamodb.New(cfg.DynamoDB)
}

// registerRemediation wires the two sentinel callback slots. Termination
// notices enqueue an emergency drain command and a durable interruption
// outcome; rebalance recommendations enqueue a lower-priority evaluation
// command so the agent asks for a fresh decision.
func registerRemediation(sent *sentinel.Sentinel, st store.Store, tr *tracker.Tracker, v *valve.Valve, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	termination := func(ctx context.Context, agentID, instanceID string, detectedAt time.Time, metadata map[string]interface{}) (interface{}, error) {
		agent, err := st.GetAgent(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("looking up agent %s: %w", agentID, err)
		}

		cmd, err := tr.Create(ctx, tracker.CreateRequest{
			AgentID:   agentID,
			ClientID:  agent.ClientID,
			Type:      "drain_and_migrate",
			Priority:  types.PriorityEmergency,
			CreatedBy: "sentinel",
			Trigger:   types.TriggerInterruption,
			Payload: map[string]interface{}{
				"instanceId": instanceID,
				"detectedAt": detectedAt.Format(time.RFC3339),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("enqueueing drain command: %w", err)
		}

		if err := v.StorePermanent(ctx, "interruption_outcomes", map[string]interface{}{
			"agent_id":    agentID,
			"instance_id": instanceID,
			"signal_type": signalTypeFrom(metadata, "termination"),
			"outcome":     "drain_command_enqueued",
			"command_id":  cmd.ID,
		}); err != nil {
			logger.Warn("recording interruption outcome failed", "agentId", agentID, "error", err)
		}
		return cmd.ID, nil
	}

	rebalance := func(ctx context.Context, agentID, instanceID string, detectedAt time.Time, metadata map[string]interface{}) (interface{}, error) {
		agent, err := st.GetAgent(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("looking up agent %s: %w", agentID, err)
		}

		cmd, err := tr.Create(ctx, tracker.CreateRequest{
			AgentID:   agentID,
			ClientID:  agent.ClientID,
			Type:      "evaluate_rebalance",
			Priority:  types.PriorityMLUrgent,
			CreatedBy: "sentinel",
			Trigger:   types.TriggerInterruption,
			Payload: map[string]interface{}{
				"instanceId": instanceID,
				"detectedAt": detectedAt.Format(time.RFC3339),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("enqueueing rebalance command: %w", err)
		}
		return cmd.ID, nil
	}

	if err := sent.RegisterCallback(sentinel.SlotTermination, termination); err != nil {
		return err
	}
	return sent.RegisterCallback(sentinel.SlotRebalance, rebalance)
}

func signalTypeFrom(metadata map[string]interface{}, fallback string) string {
	if v, ok := metadata["signalType"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
