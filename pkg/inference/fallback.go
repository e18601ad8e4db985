package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/serval-ai/faceprint/pkg/imageproc"
)

// Compile-time interface checks.
var (
	_ Runner              = (*Fallback)(nil)
	_ ComputeUnitReporter = (*Fallback)(nil)
)

// Fallback is a deterministic CPU emulation of the embedding model, used
// when the native compute backend is absent and degraded operation has been
// explicitly enabled. It combines per-channel feature buffers of the input
// through a fixed pseudo-random projection, so identical inputs always
// produce identical vectors.
//
// Fallback reports zero active compute units so downstream metrics can flag
// every batch produced in degraded mode.
type Fallback struct {
	info    ModelInfo
	weights []float32 // vectorSize × Channels projection matrix
}

// fallbackSeed fixes the projection so fallback vectors are stable across
// processes and releases.
const fallbackSeed uint64 = 0x5eedface

// NewFallback creates a Fallback producing vectors of the given size for
// inputSize×inputSize inputs.
func NewFallback(vectorSize, inputSize int) (*Fallback, error) {
	if vectorSize <= 0 {
		return nil, fmt.Errorf("inference: fallback vector size %d must be positive", vectorSize)
	}
	if inputSize <= 0 {
		return nil, fmt.Errorf("inference: fallback input size %d must be positive", inputSize)
	}

	f := &Fallback{
		info: ModelInfo{
			Name:       "cpu-emulation",
			Version:    "1",
			Backend:    "cpu-fallback",
			LoadedAt:   time.Now().UTC(),
			VectorSize: vectorSize,
			InputSize:  inputSize,
		},
		weights: make([]float32, vectorSize*imageproc.Channels),
	}

	// Deterministic xorshift weight table in [-1, 1).
	state := uint64(fallbackSeed)
	for i := range f.weights {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		f.weights[i] = float32(int64(state%2000)-1000) / 1000
	}
	return f, nil
}

// Info implements [Runner].
func (f *Fallback) Info() ModelInfo { return f.info }

// ActiveComputeUnits implements [ComputeUnitReporter]. It always returns 0:
// the fallback runs on no dedicated compute hardware.
func (f *Fallback) ActiveComputeUnits() int { return 0 }

// Run implements [Runner]. For each image in the batch it reduces every
// colour plane to a set of strided partial sums and projects them through
// the fixed weight table, yielding one vector of VectorSize floats per
// image, concatenated in batch order.
func (f *Fallback) Run(ctx context.Context, _ string, batch *imageproc.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := batch.Size()
	if size != f.info.InputSize {
		return nil, fmt.Errorf("inference: fallback input size %d, want %d", size, f.info.InputSize)
	}

	plane := size * size
	out := make([]float32, 0, batch.Batch()*f.info.VectorSize)
	for n := 0; n < batch.Batch(); n++ {
		// Prepared feature buffer: one strided partial sum per channel and
		// output component.
		for j := 0; j < f.info.VectorSize; j++ {
			var v float32
			for c := 0; c < imageproc.Channels; c++ {
				var sum float32
				// Stride keyed on the output component so components differ.
				stride := j%31 + 1
				for p := j % stride; p < plane; p += stride * 16 {
					sum += batch.At(n, c, p/size, p%size)
				}
				v += f.weights[j*imageproc.Channels+c] * sum
			}
			out = append(out, v)
		}
	}
	return out, nil
}
