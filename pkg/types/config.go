package types

// ProjectConfig represents the top-level gridshift.yaml configuration.
type ProjectConfig struct {
	Provider string          `yaml:"provider"`
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty"`
	Server   *ServerConfig   `yaml:"server,omitempty"`
	Valve    *ValveConfig    `yaml:"valve,omitempty"`
	Sentinel *SentinelConfig `yaml:"sentinel,omitempty"`
	Engine   *EngineConfig   `yaml:"engine,omitempty"`
	Archiver *ArchiverConfig `yaml:"archiver,omitempty"`
	Metrics  *MetricsConfig  `yaml:"metrics,omitempty"`
	Alerts   []AlertConfig   `yaml:"alerts,omitempty"`
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName    string `yaml:"tableName" json:"tableName"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"` // default "168h" (7 days)
	CreateTable  bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// ServerConfig holds HTTP server settings for the operational API. An empty
// APIKey disables authentication.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"apiKey,omitempty"`
}

// ValveConfig tunes the price ingestion valve. Durations are Go duration
// strings; zero values fall back to the documented defaults.
type ValveConfig struct {
	MinPrice      float64 `yaml:"minPrice,omitempty"`
	MaxPrice      float64 `yaml:"maxPrice,omitempty"`
	Retention     string  `yaml:"retention,omitempty"`     // default "168h"
	CacheTTL      string  `yaml:"cacheTtl,omitempty"`      // default "60s"
	CacheCapacity int     `yaml:"cacheCapacity,omitempty"` // default 256
}

// SentinelConfig tunes interruption signal handling.
type SentinelConfig struct {
	DedupWindow           string `yaml:"dedupWindow,omitempty"`        // default "15m"
	RateLimitWindow       string `yaml:"rateLimitWindow,omitempty"`    // default "10s"
	RateLimitThreshold    int    `yaml:"rateLimitThreshold,omitempty"` // default 3
	RateLimitDelaySeconds int    `yaml:"rateLimitDelaySeconds,omitempty"`
	MonitorInterval       string `yaml:"monitorInterval,omitempty"` // default "60s"
}

// EngineConfig selects the decision engine and its fallback.
type EngineConfig struct {
	Active       string `yaml:"active,omitempty"`   // default "cost-model"
	Fallback     string `yaml:"fallback,omitempty"` // default "rules"
	HistoryLimit int    `yaml:"historyLimit,omitempty"`
}

// ArchiverConfig configures the background Postgres archiver.
type ArchiverConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Interval string `yaml:"interval" json:"interval"` // e.g. "5m"
	DSN      string `yaml:"dsn" json:"dsn"`
}

// MetricsConfig configures the optional OTLP metrics export.
type MetricsConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
	Interval     string `yaml:"interval,omitempty"` // default "60s"
}
