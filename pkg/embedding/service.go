// Package embedding turns streams of raw image bytes into L2-normalized
// embedding vectors.
//
// The [Service] batches preprocessed inputs up to an effective batch size,
// throttles concurrent inference through a weighted semaphore, slices the
// runner's flat output buffer back into per-image vectors, and yields them
// lazily in input order via [iter.Seq2].
package embedding

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/serval-ai/faceprint/pkg/imageproc"
	"github.com/serval-ai/faceprint/pkg/inference"
)

var (
	// ErrEmptyResult is returned by [Service.Generate] when the runner
	// produces no vector for the input.
	ErrEmptyResult = errors.New("embedding: no vector produced")

	// ErrInference wraps runner failures surfaced from a batch. Vectors
	// already yielded from earlier batches of the same stream remain valid.
	ErrInference = errors.New("embedding: inference failed")
)

// MetricsSink receives per-flush observations. Implementations must be safe
// for concurrent use. See internal/observe for the OpenTelemetry-backed
// implementation.
type MetricsSink interface {
	// RecordFlush is called once per inference call with its latency, the
	// number of images in the batch, and the number of active hardware
	// compute units (zero in degraded fallback mode).
	RecordFlush(ctx context.Context, d time.Duration, batchSize, computeUnits int)
}

// nopSink discards all observations.
type nopSink struct{}

func (nopSink) RecordFlush(context.Context, time.Duration, int, int) {}

// Service generates embedding vectors from raw image bytes.
// All methods are safe for concurrent use; concurrent GenerateBatch calls
// share the same inference concurrency gate.
type Service struct {
	runner     inference.Runner
	vectorSize int
	inputName  string

	maxBatchSize int
	headroom     float64

	gate    *semaphore.Weighted
	metrics MetricsSink

	// computeUnits is resolved once at construction from the runner.
	computeUnits int
}

// Option is a functional option for [New].
type Option func(*Service)

// WithInputName sets the model input name batches are fed through.
// Defaults to "data".
func WithInputName(name string) Option {
	return func(s *Service) { s.inputName = name }
}

// WithMaxBatchSize sets the configured maximum batch size before headroom is
// applied. Defaults to 32.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) { s.maxBatchSize = n }
}

// WithHeadroomFraction reserves a fraction of the maximum batch size for
// hardware-level overhead. Must be in [0, 1). Defaults to 0.
func WithHeadroomFraction(f float64) Option {
	return func(s *Service) { s.headroom = f }
}

// WithMaxConcurrentBatches caps how many batches may run inference at the
// same time across all callers. Defaults to half the available parallel
// execution units, floored at 1.
func WithMaxConcurrentBatches(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.gate = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMetrics injects the observability sink that receives per-flush
// observations. Defaults to a no-op sink.
func WithMetrics(m MetricsSink) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Service around runner. Configuration is validated eagerly:
// an invalid batch size or headroom fraction fails here, not on first use.
func New(runner inference.Runner, opts ...Option) (*Service, error) {
	if runner == nil {
		return nil, errors.New("embedding: runner must not be nil")
	}

	s := &Service{
		runner:       runner,
		vectorSize:   runner.Info().VectorSize,
		inputName:    "data",
		maxBatchSize: 32,
		metrics:      nopSink{},
		computeUnits: 1,
	}
	for _, o := range opts {
		o(s)
	}

	if s.vectorSize <= 0 {
		return nil, fmt.Errorf("embedding: runner reports vector size %d", s.vectorSize)
	}
	if s.maxBatchSize <= 0 {
		return nil, fmt.Errorf("embedding: max batch size %d must be positive", s.maxBatchSize)
	}
	if s.headroom < 0 || s.headroom >= 1 {
		return nil, fmt.Errorf("embedding: headroom fraction %.3f out of range [0, 1)", s.headroom)
	}
	if s.gate == nil {
		workers := runtime.GOMAXPROCS(0) / 2
		if workers < 1 {
			workers = 1
		}
		s.gate = semaphore.NewWeighted(int64(workers))
	}

	if r, ok := runner.(inference.ComputeUnitReporter); ok {
		s.computeUnits = r.ActiveComputeUnits()
		if s.computeUnits == 0 {
			slog.Warn("embedding service running in degraded fallback mode",
				"backend", runner.Info().Backend,
			)
		}
	}
	return s, nil
}

// EffectiveBatchSize is the configured maximum batch size with the headroom
// fraction subtracted, floored at 1.
func (s *Service) EffectiveBatchSize() int {
	eff := int(float64(s.maxBatchSize) * (1 - s.headroom))
	if eff < 1 {
		eff = 1
	}
	return eff
}

// Generate embeds a single image by running a one-element batch and
// returning its only vector. Returns [ErrEmptyResult] when the stream
// completes without producing a vector.
func (s *Service) Generate(ctx context.Context, img []byte) ([]float32, error) {
	for vec, err := range s.GenerateBatch(ctx, func(yield func([]byte) bool) {
		yield(img)
	}) {
		if err != nil {
			return nil, err
		}
		return vec, nil
	}
	return nil, ErrEmptyResult
}

// GenerateBatch lazily embeds every image produced by inputs.
//
// The returned sequence is finite, forward-only, and not restartable; it
// consumes inputs exactly once and yields vectors in input order. Inputs are
// preprocessed and accumulated up to [Service.EffectiveBatchSize], then
// flushed through the runner; the remainder is flushed when the source is
// exhausted. Each flush waits on the shared concurrency gate before running
// inference.
//
// On a preprocessing or inference failure the sequence yields the error and
// stops; vectors already yielded remain valid. Cancellation is checked at
// every batch boundary and before every runner call.
func (s *Service) GenerateBatch(ctx context.Context, inputs iter.Seq[[]byte]) iter.Seq2[[]float32, error] {
	return func(yield func([]float32, error) bool) {
		eff := s.EffectiveBatchSize()
		pending := make([]*imageproc.Tensor, 0, eff)

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			vectors, err := s.runBatch(ctx, pending)
			pending = pending[:0]
			if err != nil {
				yield(nil, err)
				return false
			}
			for _, v := range vectors {
				if !yield(v, nil) {
					return false
				}
			}
			return true
		}

		for img := range inputs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			tensor, err := imageproc.ToTensor(img)
			if err != nil {
				yield(nil, err)
				return
			}
			pending = append(pending, tensor)
			if len(pending) == eff {
				if !flush() {
					return
				}
			}
		}
		flush()
	}
}

// runBatch concatenates the pending tensors, executes one gated inference
// call, and returns the sliced, normalized vectors in input order.
func (s *Service) runBatch(ctx context.Context, pending []*imageproc.Tensor) ([][]float32, error) {
	batch, err := imageproc.Concat(pending)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	flat, err := s.runner.Run(ctx, s.inputName, batch)
	s.metrics.RecordFlush(ctx, time.Since(start), batch.Batch(), s.computeUnits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	n := batch.Batch()
	if len(flat) != n*s.vectorSize {
		return nil, fmt.Errorf("%w: runner returned %d floats for batch %d × vector size %d",
			ErrInference, len(flat), n, s.vectorSize)
	}

	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, s.vectorSize)
		copy(v, flat[i*s.vectorSize:(i+1)*s.vectorSize])
		normalize(v)
		vectors[i] = v
	}
	return vectors, nil
}
