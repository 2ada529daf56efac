// Package observe wires the service's OpenTelemetry metrics: a
// Prometheus-backed MeterProvider plus the handful of counters and
// histograms the HTTP and IPC transports record against on every request.
package observe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service's otel instruments. All recording methods are
// safe for concurrent use, per the otel metric API's own contract.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	searchTotal        metric.Int64Counter
	searchDuration     metric.Float64Histogram
	ingestTotal        metric.Int64Counter
	consolidationTotal metric.Int64Counter
	embeddingFailures  metric.Int64Counter
}

// New builds a Metrics instance backed by its own Prometheus registry,
// scoped to serviceName. Call Handler to expose the /metrics endpoint and
// Shutdown to flush and release the exporter on process exit.
func New(serviceName string) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("observe: new prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	searchTotal, err := meter.Int64Counter("ethos_search_total",
		metric.WithDescription("total search requests, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("observe: search_total: %w", err)
	}
	searchDuration, err := meter.Float64Histogram("ethos_search_duration_seconds",
		metric.WithDescription("search request latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("observe: search_duration: %w", err)
	}
	ingestTotal, err := meter.Int64Counter("ethos_ingest_total",
		metric.WithDescription("total ingest requests, by source"))
	if err != nil {
		return nil, fmt.Errorf("observe: ingest_total: %w", err)
	}
	consolidationTotal, err := meter.Int64Counter("ethos_consolidation_runs_total",
		metric.WithDescription("total consolidation cycle runs"))
	if err != nil {
		return nil, fmt.Errorf("observe: consolidation_runs_total: %w", err)
	}
	embeddingFailures, err := meter.Int64Counter("ethos_embedding_failures_total",
		metric.WithDescription("embedding backend failures, by backend"))
	if err != nil {
		return nil, fmt.Errorf("observe: embedding_failures_total: %w", err)
	}

	return &Metrics{
		provider:           provider,
		registry:           registry,
		searchTotal:        searchTotal,
		searchDuration:     searchDuration,
		ingestTotal:        ingestTotal,
		consolidationTotal: consolidationTotal,
		embeddingFailures:  embeddingFailures,
	}, nil
}

// Handler serves the Prometheus text exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the underlying MeterProvider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// RecordSearch records a completed search's latency and outcome.
func (m *Metrics) RecordSearch(ctx context.Context, d time.Duration, ok bool) {
	m.searchDuration.Record(ctx, d.Seconds())
	m.searchTotal.Add(ctx, 1, metric.WithAttributes(outcomeAttr(ok)))
}

// RecordIngest records one ingest request tagged by its declared source.
func (m *Metrics) RecordIngest(ctx context.Context, source string, ok bool) {
	m.ingestTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source), outcomeAttr(ok),
	))
}

// RecordConsolidation records one consolidation cycle run.
func (m *Metrics) RecordConsolidation(ctx context.Context, ok bool) {
	m.consolidationTotal.Add(ctx, 1, metric.WithAttributes(outcomeAttr(ok)))
}

// RecordEmbeddingFailure records a failed embedding call against backend.
func (m *Metrics) RecordEmbeddingFailure(ctx context.Context, backend string) {
	m.embeddingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func outcomeAttr(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("outcome", "ok")
	}
	return attribute.String("outcome", "error")
}
