// Package observe provides application-wide observability primitives for
// faceprint: OpenTelemetry metrics, distributed tracing, and the metric
// sinks consumed by the embedding and vector store packages.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

	"github.com/serval-ai/faceprint/pkg/embedding"
	"github.com/serval-ai/faceprint/pkg/vectorstore"
)

// meterName is the instrumentation scope name used for all faceprint metrics.
const meterName = "github.com/serval-ai/faceprint"

// Compile-time checks that Metrics satisfies the sink interfaces of the
// packages it observes.
var (
	_ embedding.MetricsSink   = (*Metrics)(nil)
	_ vectorstore.MetricsSink = (*Metrics)(nil)
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Embedding pipeline ---

	// EmbeddingDuration tracks per-batch inference latency.
	EmbeddingDuration metric.Float64Histogram

	// EmbeddingBatchSize tracks the number of images per flushed batch.
	EmbeddingBatchSize metric.Int64Histogram

	// FallbackBatches counts batches served by the degraded CPU path
	// (zero active compute units).
	FallbackBatches metric.Int64Counter

	// --- Vector store ---

	// StoreOperations counts storage operations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreOperations metric.Int64Counter

	// StoreErrors counts failed storage operations by operation name.
	StoreErrors metric.Int64Counter

	// ActiveComputeUnits reports the compute units backing the loaded
	// model. Zero signals the degraded CPU path.
	ActiveComputeUnits metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for batched inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// batchSizeBuckets covers the effective batch sizes the dispatcher produces.
var batchSizeBuckets = []float64{
	1, 2, 4, 8, 16, 32, 64, 128,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EmbeddingDuration, err = m.Float64Histogram("faceprint.embedding.duration",
		metric.WithDescription("Latency of one batched inference flush."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingBatchSize, err = m.Int64Histogram("faceprint.embedding.batch_size",
		metric.WithDescription("Number of images per flushed inference batch."),
		metric.WithExplicitBucketBoundaries(batchSizeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FallbackBatches, err = m.Int64Counter("faceprint.embedding.fallback_batches",
		metric.WithDescription("Batches served without hardware acceleration."),
	); err != nil {
		return nil, err
	}

	if met.StoreOperations, err = m.Int64Counter("faceprint.store.operations",
		metric.WithDescription("Total vector store operations by op and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("faceprint.store.errors",
		metric.WithDescription("Failed vector store operations by op."),
	); err != nil {
		return nil, err
	}

	if met.ActiveComputeUnits, err = m.Int64Gauge("faceprint.active_compute_units",
		metric.WithDescription("Compute units backing the loaded model; zero means CPU fallback."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// SetActiveComputeUnits records the compute unit count reported by the
// runner at startup.
func (m *Metrics) SetActiveComputeUnits(ctx context.Context, units int) {
	m.ActiveComputeUnits.Record(ctx, int64(units))
}

// RecordFlush implements [embedding.MetricsSink].
func (m *Metrics) RecordFlush(ctx context.Context, d time.Duration, batchSize, computeUnits int) {
	m.EmbeddingDuration.Record(ctx, d.Seconds())
	m.EmbeddingBatchSize.Record(ctx, int64(batchSize))
	if computeUnits == 0 {
		m.FallbackBatches.Add(ctx, 1)
	}
}

// RecordStoreOperation implements [vectorstore.MetricsSink].
func (m *Metrics) RecordStoreOperation(ctx context.Context, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.StoreErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("op", op)),
		)
	}
	m.StoreOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}
