// Package inference defines the Runner interface for embedding model
// backends.
//
// A Runner wraps a loaded model that maps a batch of preprocessed image
// tensors to a flat buffer of embedding floats. Production deployments plug
// in a native execution backend (CUDA, ONNX Runtime, …) through this
// interface; this package ships the deterministic CPU [Fallback] for
// explicitly configured degraded operation and a mock subpackage for tests.
//
// Implementations must be safe for concurrent use.
package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/serval-ai/faceprint/pkg/imageproc"
)

// ErrModelUnavailable indicates that the model backend could not be
// initialised, for example because the model file is missing, its content
// hash does not match, or the expected compute hardware is absent.
// Startup must treat this as fatal unless a degraded fallback is explicitly
// configured.
var ErrModelUnavailable = errors.New("inference: model backend unavailable")

// ModelInfo is descriptive, read-only metadata about a loaded model backend.
// It is produced once at startup and never mutated afterwards.
type ModelInfo struct {
	// Name is the model's human-readable name (e.g., "arcface-r100").
	Name string

	// Version is the model artefact version string.
	Version string

	// Backend identifies the execution backend (e.g., "cuda", "cpu-fallback").
	Backend string

	// ContentHash is the hex-encoded SHA-256 of the model file.
	ContentHash string

	// LoadedAt is when the backend finished loading the model.
	LoadedAt time.Time

	// VectorSize is the length of every embedding the model produces.
	VectorSize int

	// InputSize is the expected spatial side length of input image planes.
	InputSize int
}

// Runner executes an embedding model on batched input tensors.
//
// Run returns one flat float buffer of length batch.Batch() × VectorSize,
// with the i-th slice of VectorSize floats corresponding to the i-th image
// in the batch. Implementations must fail loudly when their compute backend
// is unavailable rather than silently downgrading.
type Runner interface {
	// Info returns the immutable metadata describing the loaded model.
	Info() ModelInfo

	// Run executes the model on batch, feeding it through the named model
	// input. It respects ctx cancellation.
	Run(ctx context.Context, inputName string, batch *imageproc.Tensor) ([]float32, error)
}

// ComputeUnitReporter is optionally implemented by Runners that can report
// how many hardware compute units back the model. A report of zero marks
// the deterministic degraded mode so that callers can flag it in metrics.
type ComputeUnitReporter interface {
	ActiveComputeUnits() int
}

// HashFile returns the hex-encoded SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("inference: open model %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("inference: hash model %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyContentHash checks the model file at path against the expected
// hex-encoded SHA-256 and returns an error wrapping [ErrModelUnavailable]
// on mismatch. An empty expected hash skips verification.
func VerifyContentHash(path, expected string) error {
	if expected == "" {
		return nil
	}
	got, err := HashFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if !strings.EqualFold(got, expected) {
		return fmt.Errorf("%w: model %q content hash %s does not match expected %s",
			ErrModelUnavailable, path, got, expected)
	}
	return nil
}
