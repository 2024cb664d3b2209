// Package telemetry provides OpenTelemetry instrumentation for the
// crosspost server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/stacklok/crosspost-server/sync"

// SyncMetrics holds the OpenTelemetry instruments for sync engine metrics
type SyncMetrics struct {
	tickDuration metric.Float64Histogram
	itemsSynced  metric.Int64Counter
	syncErrors   metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	tickDuration, err := meter.Float64Histogram(
		"crosspost_tick_duration_seconds",
		metric.WithDescription("Duration of sync ticks in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	itemsSynced, err := meter.Int64Counter(
		"crosspost_items_synced_total",
		metric.WithDescription("Number of entities successfully synced to remote sites"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	syncErrors, err := meter.Int64Counter(
		"crosspost_sync_errors_total",
		metric.WithDescription("Number of per-item sync errors by code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		tickDuration: tickDuration,
		itemsSynced:  itemsSynced,
		syncErrors:   syncErrors,
	}, nil
}

// RecordTickDuration records the duration of one sync tick
func (m *SyncMetrics) RecordTickDuration(ctx context.Context, siteID, kind string, d time.Duration, success bool) {
	if m == nil || m.tickDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("site", siteID),
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	}

	m.tickDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// RecordItemsSynced records entities successfully delivered in a tick
func (m *SyncMetrics) RecordItemsSynced(ctx context.Context, siteID, kind string, count int64) {
	if m == nil || m.itemsSynced == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("site", siteID),
		attribute.String("kind", kind),
	}

	m.itemsSynced.Add(ctx, count, metric.WithAttributes(attrs...))
}

// RecordSyncError records a per-item sync error by code
func (m *SyncMetrics) RecordSyncError(ctx context.Context, siteID, kind, code string, count int64) {
	if m == nil || m.syncErrors == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("site", siteID),
		attribute.String("kind", kind),
		attribute.String("code", code),
	}

	m.syncErrors.Add(ctx, count, metric.WithAttributes(attrs...))
}
