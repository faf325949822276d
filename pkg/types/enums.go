package types

// PriceQuality classifies how a persisted price point was produced.
type PriceQuality string

// PriceQuality values enumerate the provenance of a stored price point.
const (
	QualityActual            PriceQuality = "actual"
	QualityInterpolated      PriceQuality = "interpolated"
	QualityAveragedDuplicate PriceQuality = "averaged_duplicate"
	QualityFallbackDefault   PriceQuality = "fallback_default"
)

// SignalType identifies the class of an interruption signal.
type SignalType string

// SignalType values mirror the provider-side interruption notices.
const (
	SignalRebalanceRecommendation SignalType = "rebalance-recommendation"
	SignalTerminationNotice       SignalType = "termination-notice"
	SignalSpotInterruption        SignalType = "spot-instance-interruption"
)

// ValidSignalType reports whether t is a known signal type.
func ValidSignalType(t SignalType) bool {
	switch t {
	case SignalRebalanceRecommendation, SignalTerminationNotice, SignalSpotInterruption:
		return true
	}
	return false
}

// CommandStatus represents the lifecycle state of a dispatched command.
type CommandStatus string

// CommandStatus values represent the command lifecycle states.
const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
	CommandCancelled CommandStatus = "cancelled"
)

// Canonical command priority tiers. Priority is an open integer scale;
// higher is delivered first.
const (
	PriorityEmergency      = 100
	PriorityManualOverride = 75
	PriorityMLUrgent       = 50
	PriorityMLNormal       = 25
	PriorityScheduled      = 10
)

// TriggerType records what caused a command to be created.
type TriggerType string

// TriggerType values enumerate command origins.
const (
	TriggerInterruption TriggerType = "interruption"
	TriggerDecision     TriggerType = "ml_decision"
	TriggerManual       TriggerType = "manual"
	TriggerSchedule     TriggerType = "schedule"
)

// EngineStatus represents the state of a registered decision engine.
type EngineStatus string

// EngineStatus values enumerate decision engine registration states.
const (
	EngineActive         EngineStatus = "active"
	EngineActiveFallback EngineStatus = "active_fallback"
	EngineUnloaded       EngineStatus = "unloaded"
)

// AgentStatus represents the operational state of a fleet agent.
type AgentStatus string

// AgentStatus values enumerate agent operational states.
const (
	AgentOnline     AgentStatus = "online"
	AgentOffline    AgentStatus = "offline"
	AgentDegraded   AgentStatus = "degraded"
	AgentTerminated AgentStatus = "terminated"
	AgentReplaced   AgentStatus = "replaced"
)

// ReplicaStatus represents the lifecycle state of a standby replica.
type ReplicaStatus string

// ReplicaStatus values enumerate replica lifecycle states.
const (
	ReplicaLaunching  ReplicaStatus = "launching"
	ReplicaSyncing    ReplicaStatus = "syncing"
	ReplicaReady      ReplicaStatus = "ready"
	ReplicaPromoted   ReplicaStatus = "promoted"
	ReplicaTerminated ReplicaStatus = "terminated"
)

// HealthTier is the monitoring recommendation attached to a health report.
type HealthTier string

const (
	HealthContinueMonitoring     HealthTier = "continue_monitoring"
	HealthMonitorClosely         HealthTier = "monitor_closely"
	HealthInvestigateImmediately HealthTier = "investigate_immediately"
)

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole AlertType = "console"
	AlertWebhook AlertType = "webhook"
	AlertFile    AlertType = "file"
	AlertSNS     AlertType = "sns"
)

// AlertLevel classifies alert severity.
type AlertLevel string

const (
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelError    AlertLevel = "error"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelInfo     AlertLevel = "info"
)

// EventKind classifies the type of audit event.
type EventKind string

// EventKind values enumerate the categories of recorded events.
const (
	EventSignalAccepted      EventKind = "SIGNAL_ACCEPTED"
	EventSignalDeduplicated  EventKind = "SIGNAL_DEDUPLICATED"
	EventSignalRateLimited   EventKind = "SIGNAL_RATE_LIMITED"
	EventCommandCreated      EventKind = "COMMAND_CREATED"
	EventCommandTransitioned EventKind = "COMMAND_TRANSITIONED"
	EventEngineLoaded        EventKind = "ENGINE_LOADED"
	EventEngineRejected      EventKind = "ENGINE_REJECTED"
	EventEngineFallback      EventKind = "ENGINE_FALLBACK"
	EventDecisionMade        EventKind = "DECISION_MADE"
	EventAgentMinted         EventKind = "AGENT_MINTED"
	EventAgentMigrated       EventKind = "AGENT_MIGRATED"
	EventReplicaPromoted     EventKind = "REPLICA_PROMOTED"
	EventAgentTerminated     EventKind = "AGENT_TERMINATED"
	EventHealthAlert         EventKind = "HEALTH_ALERT"
)
