// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/rerank"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/humlab-sead/sead-authority-service-sub000"

// Metrics holds all OpenTelemetry metric instruments of the service.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ReconcileDuration tracks end-to-end sub-query latency. Attributes:
	//   attribute.String("entity", ...), attribute.String("status", ...)
	ReconcileDuration metric.Float64Histogram

	// ChannelDuration tracks per-retrieval-channel latency. Attributes:
	//   attribute.String("entity", ...), attribute.String("channel", ...),
	//   attribute.String("status", ...)
	ChannelDuration metric.Float64Histogram

	// RerankDuration tracks LLM rerank call latency.
	RerankDuration metric.Float64Histogram

	// --- Counters ---

	// CandidatesReturned counts candidates surfaced per entity type.
	CandidatesReturned metric.Int64Counter

	// RerankOutcomes counts rerank attempts by outcome
	// (applied, skipped, timeout, invalid, provider_error).
	RerankOutcomes metric.Int64Counter

	// EmbeddingCacheEvents counts embedding cache lookups. Attribute:
	//   attribute.String("result", "hit"|"miss")
	EmbeddingCacheEvents metric.Int64Counter

	// --- Error counters ---

	// SubQueryErrors counts failed sub-queries by entity and code.
	SubQueryErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// database-bound retrieval latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ReconcileDuration, err = m.Float64Histogram("seadrecon.reconcile.duration",
		metric.WithDescription("End-to-end latency of one reconciliation sub-query."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChannelDuration, err = m.Float64Histogram("seadrecon.channel.duration",
		metric.WithDescription("Latency of one retrieval channel query."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RerankDuration, err = m.Float64Histogram("seadrecon.rerank.duration",
		metric.WithDescription("Latency of LLM rerank calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CandidatesReturned, err = m.Int64Counter("seadrecon.candidates.returned",
		metric.WithDescription("Total candidates returned by entity type."),
	); err != nil {
		return nil, err
	}
	if met.RerankOutcomes, err = m.Int64Counter("seadrecon.rerank.outcomes",
		metric.WithDescription("Total rerank attempts by entity type and outcome."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingCacheEvents, err = m.Int64Counter("seadrecon.embedding_cache.events",
		metric.WithDescription("Embedding cache lookups by result (hit or miss)."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SubQueryErrors, err = m.Int64Counter("seadrecon.subquery.errors",
		metric.WithDescription("Failed reconciliation sub-queries by entity type and code."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("seadrecon.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// statusAttr folds an error into the standard status attribute.
func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}

// ObserveChannel records one retrieval-channel query. It satisfies the
// strategy layer's channel observer.
func (m *Metrics) ObserveChannel(ctx context.Context, entity, channel string, elapsed time.Duration, err error) {
	m.ChannelDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("channel", channel),
			statusAttr(err),
		),
	)
}

// ObserveReconcile records one completed sub-query. It satisfies the service
// layer's observer.
func (m *Metrics) ObserveReconcile(ctx context.Context, entity string, elapsed time.Duration, candidates int, errCode string) {
	status := "ok"
	if errCode != "" {
		status = "error"
		m.SubQueryErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("entity", entity),
				attribute.String("code", errCode),
			),
		)
	}
	m.ReconcileDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("status", status),
		),
	)
	if candidates > 0 {
		m.CandidatesReturned.Add(ctx, int64(candidates),
			metric.WithAttributes(attribute.String("entity", entity)),
		)
	}
}

// ObserveRerank records one rerank attempt. It satisfies the rerank
// package's observer.
func (m *Metrics) ObserveRerank(ctx context.Context, entity string, outcome rerank.Outcome, elapsed time.Duration) {
	m.RerankOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("outcome", string(outcome)),
		),
	)
	m.RerankDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("entity", entity)),
	)
}

// RecordCacheEvent counts one embedding cache lookup.
func (m *Metrics) RecordCacheEvent(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EmbeddingCacheEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}
