package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// CostModelEngineName identifies the statistical cost model engine.
const CostModelEngineName = "cost-model"

const (
	// Expected interruption cost in price units per event per hour of the
	// observation window. Tunes how strongly interruptions discourage spot.
	interruptionCostWeight = 0.02

	// Minimum history points before the model trusts its own statistics.
	minHistoryPoints = 10
)

// CostModelEngine weighs the expected spot cost, including volatility and an
// interruption penalty, against the on-demand price.
type CostModelEngine struct{}

// NewCostModelEngine creates the cost model engine.
func NewCostModelEngine() *CostModelEngine {
	return &CostModelEngine{}
}

// Type returns the engine identifier.
func (e *CostModelEngine) Type() string { return CostModelEngineName }

// Version returns the engine version.
func (e *CostModelEngine) Version() string { return "2.0.1" }

// Decide compares the risk-adjusted expected spot cost to the on-demand
// price.
func (e *CostModelEngine) Decide(_ context.Context, input types.DecisionInput) (types.DecisionOutput, error) {
	if err := input.Validate(); err != nil {
		return types.DecisionOutput{}, err
	}

	mean, stddev := priceStats(input.PriceHistory7d, input.SpotPrice)
	interruptionRate := interruptionsPerHour(input.InterruptionHistory)

	// Risk-adjusted expected cost: mean price plus one standard deviation of
	// volatility plus the interruption penalty.
	expectedCost := mean + stddev + interruptionRate*interruptionCostWeight
	riskScore := clamp01(stddev/math.Max(mean, 1e-9) + interruptionRate/4)

	confidence := 0.9
	if len(input.PriceHistory7d) < minHistoryPoints {
		confidence = 0.5
	}

	if expectedCost >= input.OnDemandPrice {
		return types.DecisionOutput{
			Decision:        types.DecisionSwitch,
			Confidence:      confidence,
			TargetPoolID:    input.CurrentPoolID,
			TargetMode:      "on-demand",
			ExpectedSavings: expectedCost - input.OnDemandPrice,
			RiskScore:       riskScore,
			Reasoning: fmt.Sprintf("risk-adjusted spot cost %.5f exceeds on-demand %.5f (volatility %.5f, %.2f interruptions/h)",
				expectedCost, input.OnDemandPrice, stddev, interruptionRate),
		}, nil
	}

	return types.DecisionOutput{
		Decision:        types.DecisionStay,
		Confidence:      confidence,
		TargetMode:      input.CurrentMode,
		ExpectedSavings: input.OnDemandPrice - expectedCost,
		RiskScore:       riskScore,
		Reasoning: fmt.Sprintf("risk-adjusted spot cost %.5f below on-demand %.5f",
			expectedCost, input.OnDemandPrice),
	}, nil
}

// priceStats returns the mean and standard deviation of the history, falling
// back to the current price when the history is empty.
func priceStats(history []types.PriceSnapshot, current float64) (float64, float64) {
	if len(history) == 0 {
		return current, 0
	}
	var sum float64
	for _, snap := range history {
		sum += snap.Price
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, snap := range history {
		d := snap.Price - mean
		variance += d * d
	}
	variance /= float64(len(history))
	return mean, math.Sqrt(variance)
}

// interruptionsPerHour computes the signal rate over the observed span.
func interruptionsPerHour(history []types.InterruptionSignal) float64 {
	if len(history) == 0 {
		return 0
	}
	earliest, latest := history[0].DetectedAt, history[0].DetectedAt
	for _, sig := range history[1:] {
		if sig.DetectedAt.Before(earliest) {
			earliest = sig.DetectedAt
		}
		if sig.DetectedAt.After(latest) {
			latest = sig.DetectedAt
		}
	}
	span := latest.Sub(earliest)
	if span < time.Hour {
		span = time.Hour
	}
	return float64(len(history)) / span.Hours()
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
