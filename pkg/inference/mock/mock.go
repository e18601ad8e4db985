// Package mock provides a test double for the inference.Runner interface.
//
// Use Runner to return pre-canned flat embedding buffers without a live
// model and to verify which batches were submitted for inference.
//
// Example:
//
//	r := &mock.Runner{
//	    InfoValue: inference.ModelInfo{VectorSize: 4, InputSize: 112},
//	    RunFunc: func(ctx context.Context, input string, batch *imageproc.Tensor) ([]float32, error) {
//	        return make([]float32, batch.Batch()*4), nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/serval-ai/faceprint/pkg/imageproc"
	"github.com/serval-ai/faceprint/pkg/inference"
)

// RunCall records a single invocation of Run.
type RunCall struct {
	// Ctx is the context passed to Run.
	Ctx context.Context
	// InputName is the model input name passed to Run.
	InputName string
	// BatchSize is the batch dimension of the submitted tensor.
	BatchSize int
}

// Runner is a mock implementation of inference.Runner.
type Runner struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// InfoValue is returned by Info.
	InfoValue inference.ModelInfo

	// RunFunc, if non-nil, is invoked by Run instead of the static fields
	// below. Use it when the result must depend on the submitted batch.
	RunFunc func(ctx context.Context, inputName string, batch *imageproc.Tensor) ([]float32, error)

	// RunResult is returned by Run when RunFunc is nil.
	RunResult []float32

	// RunErr, if non-nil, is returned as the error from Run when RunFunc is nil.
	RunErr error

	// ComputeUnits is returned by ActiveComputeUnits. Defaults to 0.
	ComputeUnits int

	// --- Call records ---

	// RunCalls records every call to Run in order.
	RunCalls []RunCall

	// InfoCallCount is the number of times Info was called.
	InfoCallCount int
}

// Info records the call and returns InfoValue.
func (r *Runner) Info() inference.ModelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InfoCallCount++
	return r.InfoValue
}

// Run records the call and returns the configured result.
func (r *Runner) Run(ctx context.Context, inputName string, batch *imageproc.Tensor) ([]float32, error) {
	r.mu.Lock()
	r.RunCalls = append(r.RunCalls, RunCall{Ctx: ctx, InputName: inputName, BatchSize: batch.Batch()})
	fn := r.RunFunc
	result, err := r.RunResult, r.RunErr
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, inputName, batch)
	}
	return result, err
}

// ActiveComputeUnits returns ComputeUnits.
func (r *Runner) ActiveComputeUnits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ComputeUnits
}

// BatchSizes returns the batch dimension of every recorded Run call in order.
func (r *Runner) BatchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.RunCalls))
	for i, c := range r.RunCalls {
		sizes[i] = c.BatchSize
	}
	return sizes
}

// Reset clears all recorded calls. Thread-safe.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RunCalls = nil
	r.InfoCallCount = 0
}

// Ensure Runner implements the inference interfaces at compile time.
var (
	_ inference.Runner              = (*Runner)(nil)
	_ inference.ComputeUnitReporter = (*Runner)(nil)
)
