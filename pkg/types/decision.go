package types

import (
	"fmt"
	"math"
)

// DecisionAction is the action a decision engine recommends.
type DecisionAction string

// DecisionAction values enumerate recommended actions.
const (
	DecisionSwitch    DecisionAction = "switch"
	DecisionStay      DecisionAction = "stay"
	DecisionEmergency DecisionAction = "emergency"
)

// DecisionInput is the fixed input contract every decision engine receives.
// All fields are required; missing fields are a contract violation surfaced
// to the caller before any engine is invoked.
type DecisionInput struct {
	AgentID             string               `json:"agentId"`
	InstanceType        string               `json:"instanceType"`
	Region              string               `json:"region"`
	CurrentMode         string               `json:"currentMode"`
	CurrentPoolID       string               `json:"currentPoolId"`
	SpotPrice           float64              `json:"spotPrice"`
	OnDemandPrice       float64              `json:"ondemandPrice"`
	PriceHistory7d      []PriceSnapshot      `json:"priceHistory7d"`
	InterruptionHistory []InterruptionSignal `json:"interruptionHistory"`
}

// DecisionOutput is the fixed output contract every decision engine must
// honor regardless of which strategy produced it.
type DecisionOutput struct {
	Decision        DecisionAction `json:"decision"`
	Confidence      float64        `json:"confidence"`
	TargetPoolID    string         `json:"targetPoolId,omitempty"`
	TargetMode      string         `json:"targetMode"`
	ExpectedSavings float64        `json:"expectedSavings"`
	RiskScore       float64        `json:"riskScore"`
	Reasoning       string         `json:"reasoning"`
}

// Validate checks the input side of the engine contract. A violation is
// reported with the offending field name.
func (in DecisionInput) Validate() error {
	switch {
	case in.AgentID == "":
		return fmt.Errorf("decision input missing required field %q", "agentId")
	case in.InstanceType == "":
		return fmt.Errorf("decision input missing required field %q", "instanceType")
	case in.Region == "":
		return fmt.Errorf("decision input missing required field %q", "region")
	case in.CurrentMode == "":
		return fmt.Errorf("decision input missing required field %q", "currentMode")
	case in.CurrentPoolID == "":
		return fmt.Errorf("decision input missing required field %q", "currentPoolId")
	case in.SpotPrice <= 0:
		return fmt.Errorf("decision input missing required field %q", "spotPrice")
	case in.OnDemandPrice <= 0:
		return fmt.Errorf("decision input missing required field %q", "ondemandPrice")
	case in.PriceHistory7d == nil:
		return fmt.Errorf("decision input missing required field %q", "priceHistory7d")
	case in.InterruptionHistory == nil:
		return fmt.Errorf("decision input missing required field %q", "interruptionHistory")
	}
	return nil
}

// Validate checks the output side of the engine contract: every required key
// present and within range. TargetPoolID is nullable except for switch
// decisions.
func (out DecisionOutput) Validate() error {
	switch out.Decision {
	case DecisionSwitch, DecisionStay, DecisionEmergency:
	case "":
		return fmt.Errorf("decision output missing required field %q", "decision")
	default:
		return fmt.Errorf("decision output has invalid decision %q", out.Decision)
	}
	if math.IsNaN(out.Confidence) {
		return fmt.Errorf("decision output missing required field %q", "confidence")
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return fmt.Errorf("decision output confidence %v outside [0,1]", out.Confidence)
	}
	if math.IsNaN(out.RiskScore) {
		return fmt.Errorf("decision output missing required field %q", "riskScore")
	}
	if out.RiskScore < 0 || out.RiskScore > 1 {
		return fmt.Errorf("decision output riskScore %v outside [0,1]", out.RiskScore)
	}
	if out.TargetMode == "" {
		return fmt.Errorf("decision output missing required field %q", "targetMode")
	}
	if out.Reasoning == "" {
		return fmt.Errorf("decision output missing required field %q", "reasoning")
	}
	if out.Decision == DecisionSwitch && out.TargetPoolID == "" {
		return fmt.Errorf("decision output missing required field %q for switch", "targetPoolId")
	}
	return nil
}

// SafeDefaultDecision is the substitute returned when the active engine
// misbehaves: hold position with zero confidence.
func SafeDefaultDecision(reason string) DecisionOutput {
	if reason == "" {
		reason = "engine error"
	}
	return DecisionOutput{
		Decision:   DecisionStay,
		Confidence: 0,
		TargetMode: "current",
		RiskScore:  0.5,
		Reasoning:  reason,
	}
}
