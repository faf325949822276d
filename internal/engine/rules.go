package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// RulesEngineName is the designated fallback engine.
const RulesEngineName = "rules"

const (
	// Spot above this fraction of the on-demand price is no longer worth
	// the interruption exposure.
	spotPriceCeiling = 0.85

	// Interruptions in the last hour that force an emergency exit.
	emergencyInterruptions = 3

	recentInterruptionWindow = time.Hour
)

// RulesEngine is a deterministic threshold strategy. It is deliberately
// simple: it must keep working when fancier engines are rejected.
type RulesEngine struct{}

// NewRulesEngine creates the rule-based engine.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Type returns the engine identifier.
func (e *RulesEngine) Type() string { return RulesEngineName }

// Version returns the engine version.
func (e *RulesEngine) Version() string { return "1.2.0" }

// Decide applies fixed thresholds to the current price and the recent
// interruption history.
func (e *RulesEngine) Decide(_ context.Context, input types.DecisionInput) (types.DecisionOutput, error) {
	if err := input.Validate(); err != nil {
		return types.DecisionOutput{}, err
	}

	recent := 0
	cutoff := latestTimestamp(input).Add(-recentInterruptionWindow)
	for _, sig := range input.InterruptionHistory {
		if sig.DetectedAt.After(cutoff) {
			recent++
		}
	}
	if recent >= emergencyInterruptions {
		return types.DecisionOutput{
			Decision:        types.DecisionEmergency,
			Confidence:      0.95,
			TargetPoolID:    input.CurrentPoolID,
			TargetMode:      "on-demand",
			ExpectedSavings: input.SpotPrice - input.OnDemandPrice,
			RiskScore:       0.95,
			Reasoning:       fmt.Sprintf("%d interruptions within the last hour", recent),
		}, nil
	}

	ratio := input.SpotPrice / input.OnDemandPrice
	if ratio >= spotPriceCeiling {
		return types.DecisionOutput{
			Decision:        types.DecisionSwitch,
			Confidence:      0.8,
			TargetPoolID:    input.CurrentPoolID,
			TargetMode:      "on-demand",
			ExpectedSavings: input.SpotPrice - input.OnDemandPrice,
			RiskScore:       0.3,
			Reasoning:       fmt.Sprintf("spot at %.0f%% of on-demand exceeds the %.0f%% ceiling", ratio*100, spotPriceCeiling*100),
		}, nil
	}

	return types.DecisionOutput{
		Decision:        types.DecisionStay,
		Confidence:      0.7,
		TargetMode:      input.CurrentMode,
		ExpectedSavings: input.OnDemandPrice - input.SpotPrice,
		RiskScore:       0.2,
		Reasoning:       fmt.Sprintf("spot at %.0f%% of on-demand remains attractive", ratio*100),
	}, nil
}

// latestTimestamp anchors relative windows on the newest data point rather
// than the wall clock, keeping decisions reproducible for a given input.
func latestTimestamp(input types.DecisionInput) time.Time {
	var latest time.Time
	for _, snap := range input.PriceHistory7d {
		if snap.CapturedAt.After(latest) {
			latest = snap.CapturedAt
		}
	}
	for _, sig := range input.InterruptionHistory {
		if sig.DetectedAt.After(latest) {
			latest = sig.DetectedAt
		}
	}
	if latest.IsZero() {
		latest = time.Now().UTC()
	}
	return latest
}
