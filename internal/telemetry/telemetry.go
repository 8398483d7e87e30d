// Package telemetry provides OpenTelemetry metrics for trackersync.
//
// Telemetry is disabled by default (no-op providers, zero overhead).
//
//	TSYNC_OTEL_ENABLED=true           enable metrics
//	TSYNC_OTEL_STDOUT=true            write metrics to stderr (dev mode)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...   OTLP/HTTP endpoint
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/trackersync/trackersync"

var (
	shutdownFn func(context.Context) error

	syncedCounter    metric.Int64Counter
	loopSkipCounter  metric.Int64Counter
	retryCounter     metric.Int64Counter
	rateLimitCounter metric.Int64Counter
)

// Enabled reports whether telemetry is active.
func Enabled() bool {
	return os.Getenv("TSYNC_OTEL_ENABLED") == "true"
}

// Init configures the meter provider and instruments. When disabled this
// installs a no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		initInstruments()
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	if os.Getenv("TSYNC_OTEL_STDOUT") == "true" {
		exporter, err = stdoutmetric.New()
	} else {
		exporter, err = otlpmetrichttp.New(ctx)
	}
	if err != nil {
		return fmt.Errorf("telemetry: exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(mp)
	shutdownFn = mp.Shutdown
	initInstruments()
	return nil
}

func initInstruments() {
	meter := otel.GetMeterProvider().Meter(instrumentationScope)
	syncedCounter, _ = meter.Int64Counter("tsync.issues.synced",
		metric.WithDescription("Issues synced, by action and summary"))
	loopSkipCounter, _ = meter.Int64Counter("tsync.loop.skips",
		metric.WithDescription("Events skipped by loop prevention"))
	retryCounter, _ = meter.Int64Counter("tsync.retries",
		metric.WithDescription("Remote call retries"))
	rateLimitCounter, _ = meter.Int64Counter("tsync.ratelimit.waits",
		metric.WithDescription("Rate limit cooldown waits"))
}

// Shutdown flushes and stops the meter provider.
func Shutdown(ctx context.Context) error {
	if shutdownFn == nil {
		return nil
	}
	return shutdownFn(ctx)
}

// RecordSync counts one finished sync attempt.
func RecordSync(ctx context.Context, action, summary string) {
	if syncedCounter == nil {
		return
	}
	syncedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("summary", summary),
	))
}

// RecordLoopSkip counts one loop-prevented event.
func RecordLoopSkip(ctx context.Context, reason string) {
	if loopSkipCounter == nil {
		return
	}
	loopSkipCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRetry counts one retry of a remote call.
func RecordRetry(ctx context.Context) {
	if retryCounter == nil {
		return
	}
	retryCounter.Add(ctx, 1)
}

// RecordRateLimitWait counts one rate-limit cooldown.
func RecordRateLimitWait(ctx context.Context) {
	if rateLimitCounter == nil {
		return
	}
	rateLimitCounter.Add(ctx, 1)
}
