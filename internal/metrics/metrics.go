// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	PricesAccepted      = expvar.NewInt("prices_accepted")
	PricesRejected      = expvar.NewInt("prices_rejected")
	PricesAveraged      = expvar.NewInt("prices_averaged")
	PricesInterpolated  = expvar.NewInt("prices_interpolated")
	PriceCacheHits      = expvar.NewInt("price_cache_hits")
	PriceCacheMisses    = expvar.NewInt("price_cache_misses")
	SignalsProcessed    = expvar.NewInt("signals_processed")
	SignalsDeduplicated = expvar.NewInt("signals_deduplicated")
	SignalsRateLimited  = expvar.NewInt("signals_rate_limited")
	CommandsCreated     = expvar.NewInt("commands_created")
	CommandsCompleted   = expvar.NewInt("commands_completed")
	CommandsFailed      = expvar.NewInt("commands_failed")
	CommandClaimsLost   = expvar.NewInt("command_claims_lost")
	DecisionsTotal      = expvar.NewInt("decisions_total")
	DecisionsFallback   = expvar.NewInt("decisions_fallback")
	EngineLoads         = expvar.NewInt("engine_loads")
	EngineLoadsRejected = expvar.NewInt("engine_loads_rejected")
	AgentsMinted        = expvar.NewInt("agents_minted")
	AgentsMigrated      = expvar.NewInt("agents_migrated")
	ReplicasPromoted    = expvar.NewInt("replicas_promoted")
	HealthChecksTotal   = expvar.NewInt("health_checks_total")
	HealthAlertsRaised  = expvar.NewInt("health_alerts_raised")
	AlertsDispatched    = expvar.NewInt("alerts_dispatched")
	AlertsFailed        = expvar.NewInt("alerts_failed")
	RowsArchived        = expvar.NewInt("rows_archived")
	ArchiveCyclesFailed = expvar.NewInt("archive_cycles_failed")
)
