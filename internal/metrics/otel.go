package metrics

import (
	"context"
	"expvar"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// exported names every expvar counter is mirrored under.
var exportedCounters = []string{
	"prices_accepted",
	"prices_rejected",
	"prices_averaged",
	"prices_interpolated",
	"price_cache_hits",
	"price_cache_misses",
	"signals_processed",
	"signals_deduplicated",
	"signals_rate_limited",
	"commands_created",
	"commands_completed",
	"commands_failed",
	"command_claims_lost",
	"decisions_total",
	"decisions_fallback",
	"engine_loads",
	"engine_loads_rejected",
	"agents_minted",
	"agents_migrated",
	"replicas_promoted",
	"health_checks_total",
	"health_alerts_raised",
	"alerts_dispatched",
	"alerts_failed",
	"rows_archived",
	"archive_cycles_failed",
}

// StartOTLPExport mirrors the process expvar counters to an OTLP collector.
// Returns a shutdown func. A nil shutdown is never returned on success.
func StartOTLPExport(ctx context.Context, endpoint string, interval time.Duration) (func(context.Context) error, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating otlp exporter: %w", err)
	}

	if interval <= 0 {
		interval = 30 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("gridshift"),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("gridshift")
	for _, name := range exportedCounters {
		v := expvar.Get(name)
		iv, ok := v.(*expvar.Int)
		if !ok {
			continue
		}
		counter, err := meter.Int64ObservableCounter(name)
		if err != nil {
			return nil, fmt.Errorf("registering counter %s: %w", name, err)
		}
		src := iv
		_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(counter, src.Value())
			return nil
		}, counter)
		if err != nil {
			return nil, fmt.Errorf("registering callback %s: %w", name, err)
		}
	}

	return provider.Shutdown, nil
}
