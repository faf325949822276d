// Package types defines the public domain types for the Gridshift spot-fleet
// control plane.
package types

import "time"

// PriceSnapshot is a single point of a pool's price time series.
type PriceSnapshot struct {
	PoolID     string       `json:"poolId"`
	Price      float64      `json:"price"`
	CapturedAt time.Time    `json:"capturedAt"`
	SourceID   string       `json:"sourceId,omitempty"`
	Quality    PriceQuality `json:"quality"`
	IsReplica  bool         `json:"isReplica,omitempty"`
}

// PermanentRecord is a durable row that is never retention-purged.
type PermanentRecord struct {
	Table     string                 `json:"table"`
	Fields    map[string]interface{} `json:"fields"`
	CreatedAt time.Time              `json:"createdAt"`
}

// InterruptionSignal is a provider interruption or rebalance notice reported
// by a remote agent.
type InterruptionSignal struct {
	AgentID    string                 `json:"agentId"`
	InstanceID string                 `json:"instanceId"`
	Type       SignalType             `json:"signalType"`
	DetectedAt time.Time              `json:"detectedAt"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Command is an action dispatched to a remote agent through its priority
// mailbox. Status is owned exclusively by the command tracker.
type Command struct {
	ID               string                 `json:"id"`
	AgentID          string                 `json:"agentId"`
	ClientID         string                 `json:"clientId"`
	Type             string                 `json:"commandType"`
	Priority         int                    `json:"priority"`
	Status           CommandStatus          `json:"status"`
	CreatedBy        string                 `json:"createdBy"`
	Trigger          TriggerType            `json:"triggerType"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	ExecutionResult  map[string]interface{} `json:"executionResult,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	RetryRecommended bool                   `json:"retryRecommended,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	ExecutedAt       *time.Time             `json:"executedAt,omitempty"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty"`
}

// CommandUpdate carries the mutable fields applied during a status transition.
type CommandUpdate struct {
	ExecutionResult  map[string]interface{}
	ErrorMessage     string
	RetryRecommended bool
	ExecutedAt       *time.Time
	CompletedAt      *time.Time
}

// CommandFilter selects commands for history queries.
type CommandFilter struct {
	AgentID        string
	ClientID       string
	Status         CommandStatus
	ExcludePending bool
	Limit          int
}

// EngineRegistration records a decision engine load into the bounded history.
type EngineRegistration struct {
	EngineType string       `json:"engineType"`
	Version    string       `json:"version"`
	Status     EngineStatus `json:"status"`
	LoadedAt   time.Time    `json:"loadedAt"`
	Reason     string       `json:"reason,omitempty"`
}

// AgentRecord maps a stable logical workload identity to its current
// physical instance. One non-replaced row exists per (clientID,
// logicalAgentID); migration mutates this row in place.
type AgentRecord struct {
	AgentID            string      `json:"agentId"`
	ClientID           string      `json:"clientId"`
	LogicalAgentID     string      `json:"logicalAgentId"`
	InstanceID         string      `json:"instanceId"`
	AvailabilityZone   string      `json:"availabilityZone,omitempty"`
	PoolID             string      `json:"poolId,omitempty"`
	InstanceCount      int         `json:"instanceCount"`
	Status             AgentStatus `json:"status"`
	Enabled            bool        `json:"enabled"`
	LastHeartbeatAt    *time.Time  `json:"lastHeartbeatAt,omitempty"`
	LastPriceReportAt  *time.Time  `json:"lastPriceReportAt,omitempty"`
	LastInterruptionAt *time.Time  `json:"lastInterruptionAt,omitempty"`
	InterruptionCount  int         `json:"interruptionCount"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// InstanceRecord is one physical incarnation of a logical agent. An agent
// accumulates instance records across migrations (1:N history).
type InstanceRecord struct {
	AgentID          string     `json:"agentId"`
	InstanceID       string     `json:"instanceId"`
	AvailabilityZone string     `json:"availabilityZone,omitempty"`
	PoolID           string     `json:"poolId,omitempty"`
	Active           bool       `json:"active"`
	LaunchedAt       time.Time  `json:"launchedAt"`
	RetiredAt        *time.Time `json:"retiredAt,omitempty"`
}

// ReplicaRecord tracks a standby replica linked to a primary agent. It is a
// separate relation; replica state is never folded into the primary row.
type ReplicaRecord struct {
	ReplicaAgentID string        `json:"replicaAgentId"`
	PrimaryAgentID string        `json:"primaryAgentId"`
	LogicalAgentID string        `json:"logicalAgentId"`
	InstanceID     string        `json:"instanceId"`
	Status         ReplicaStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// HealthReport is the outcome of a single agent health evaluation.
type HealthReport struct {
	AgentID        string      `json:"agentId"`
	Status         AgentStatus `json:"status"`
	Score          int         `json:"score"`
	Issues         []string    `json:"issues,omitempty"`
	Recommendation HealthTier  `json:"recommendation"`
	CheckedAt      time.Time   `json:"checkedAt"`
}

// Alert represents an alert event to be dispatched.
type Alert struct {
	Level      AlertLevel             `json:"level"`
	AgentID    string                 `json:"agentId,omitempty"`
	SignalType SignalType             `json:"signalType,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AlertConfig defines an alert sink configuration.
type AlertConfig struct {
	Type     AlertType `yaml:"type" json:"type"`
	URL      string    `yaml:"url,omitempty" json:"url,omitempty"`
	Path     string    `yaml:"path,omitempty" json:"path,omitempty"`
	TopicARN string    `yaml:"topicArn,omitempty" json:"topicArn,omitempty"`
}

// Event is an append-only audit log entry recording what happened and when.
type Event struct {
	Kind      EventKind              `json:"kind"`
	AgentID   string                 `json:"agentId,omitempty"`
	PoolID    string                 `json:"poolId,omitempty"`
	CommandID string                 `json:"commandId,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
