package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFlush_ObservesDurationAndBatchSize(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFlush(ctx, 120*time.Millisecond, 24, 8)
	m.RecordFlush(ctx, 80*time.Millisecond, 24, 8)

	rm := collect(t, reader)

	dur := findMetric(rm, "faceprint.embedding.duration")
	if dur == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Errorf("duration sample count = %v, want 2", hist.DataPoints)
	}

	size := findMetric(rm, "faceprint.embedding.batch_size")
	if size == nil {
		t.Fatal("batch size metric not found")
	}
	sizeHist, ok := size.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("batch size metric is not a histogram")
	}
	if len(sizeHist.DataPoints) == 0 || sizeHist.DataPoints[0].Count != 2 {
		t.Errorf("batch size sample count = %v, want 2", sizeHist.DataPoints)
	}

	// No fallback batches were recorded: compute units were nonzero.
	if fb := findMetric(rm, "faceprint.embedding.fallback_batches"); fb != nil {
		sum, ok := fb.Data.(metricdata.Sum[int64])
		if ok && len(sum.DataPoints) > 0 && sum.DataPoints[0].Value != 0 {
			t.Errorf("fallback batches = %d, want 0", sum.DataPoints[0].Value)
		}
	}
}

func TestRecordFlush_CountsFallbackBatches(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFlush(ctx, 200*time.Millisecond, 4, 0)
	m.RecordFlush(ctx, 180*time.Millisecond, 4, 0)

	rm := collect(t, reader)
	fb := findMetric(rm, "faceprint.embedding.fallback_batches")
	if fb == nil {
		t.Fatal("fallback metric not found")
	}
	sum, ok := fb.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("fallback metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("fallback batches = %v, want 2", sum.DataPoints)
	}
}

func TestRecordStoreOperation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStoreOperation(ctx, "upsert", nil)
	m.RecordStoreOperation(ctx, "upsert", nil)
	m.RecordStoreOperation(ctx, "search", errors.New("timeout"))

	rm := collect(t, reader)

	ops := findMetric(rm, "faceprint.store.operations")
	if ops == nil {
		t.Fatal("operations metric not found")
	}
	opsSum, ok := ops.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("operations metric is not a sum")
	}
	var total int64
	for _, dp := range opsSum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total operations = %d, want 3", total)
	}

	errs := findMetric(rm, "faceprint.store.errors")
	if errs == nil {
		t.Fatal("errors metric not found")
	}
	errSum, ok := errs.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("errors metric is not a sum")
	}
	if len(errSum.DataPoints) == 0 || errSum.DataPoints[0].Value != 1 {
		t.Errorf("error count = %v, want 1", errSum.DataPoints)
	}
	for _, kv := range errSum.DataPoints[0].Attributes.ToSlice() {
		if string(kv.Key) == "op" && kv.Value.AsString() != "search" {
			t.Errorf("error op = %q, want %q", kv.Value.AsString(), "search")
		}
	}
}
