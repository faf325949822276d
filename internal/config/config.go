// Package config handles loading and validation of gridshift.yaml project
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// Load reads and parses gridshift.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, "gridshift.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if cfg.Provider != "dynamodb" {
		return fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if cfg.DynamoDB == nil {
		return fmt.Errorf("dynamodb config is required when provider is dynamodb")
	}
	if cfg.DynamoDB.TableName == "" {
		return fmt.Errorf("dynamodb.tableName is required")
	}

	if cfg.Archiver != nil && cfg.Archiver.Enabled && cfg.Archiver.DSN == "" {
		return fmt.Errorf("archiver.dsn is required when archiver is enabled")
	}

	for i, ac := range cfg.Alerts {
		switch ac.Type {
		case types.AlertConsole:
		case types.AlertWebhook:
			if ac.URL == "" {
				return fmt.Errorf("alerts[%d]: url is required for webhook sinks", i)
			}
		case types.AlertFile:
			if ac.Path == "" {
				return fmt.Errorf("alerts[%d]: path is required for file sinks", i)
			}
		case types.AlertSNS:
			if ac.TopicARN == "" {
				return fmt.Errorf("alerts[%d]: topicArn is required for sns sinks", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown sink type %q", i, ac.Type)
		}
	}

	durations := []struct {
		name  string
		value string
	}{
		{"dynamodb.retentionTtl", cfg.DynamoDB.RetentionTTL},
		{"valve.retention", valveField(cfg, func(v *types.ValveConfig) string { return v.Retention })},
		{"valve.cacheTtl", valveField(cfg, func(v *types.ValveConfig) string { return v.CacheTTL })},
		{"sentinel.dedupWindow", sentinelField(cfg, func(s *types.SentinelConfig) string { return s.DedupWindow })},
		{"sentinel.rateLimitWindow", sentinelField(cfg, func(s *types.SentinelConfig) string { return s.RateLimitWindow })},
		{"sentinel.monitorInterval", sentinelField(cfg, func(s *types.SentinelConfig) string { return s.MonitorInterval })},
		{"archiver.interval", archiverInterval(cfg)},
		{"metrics.interval", metricsInterval(cfg)},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", d.name, d.value)
		}
	}

	return nil
}

func valveField(cfg *types.ProjectConfig, get func(*types.ValveConfig) string) string {
	if cfg.Valve == nil {
		return ""
	}
	return get(cfg.Valve)
}

func sentinelField(cfg *types.ProjectConfig, get func(*types.SentinelConfig) string) string {
	if cfg.Sentinel == nil {
		return ""
	}
	return get(cfg.Sentinel)
}

func archiverInterval(cfg *types.ProjectConfig) string {
	if cfg.Archiver == nil {
		return ""
	}
	return cfg.Archiver.Interval
}

func metricsInterval(cfg *types.ProjectConfig) string {
	if cfg.Metrics == nil {
		return ""
	}
	return cfg.Metrics.Interval
}

// Duration parses a config duration string, falling back to def when unset.
// Validation has already rejected malformed values at load time.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
