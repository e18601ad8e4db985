package inference

import (
	"fmt"
	"os"
	"sync"
)

// BackendLoader loads the model artifact at path and returns a ready
// Runner. Native execution backends register themselves via
// [RegisterBackend], typically from an init function in a build-tag-gated
// file that links the vendor runtime.
type BackendLoader func(path string) (Runner, error)

var (
	backendMu sync.RWMutex
	backend   BackendLoader
)

// RegisterBackend installs the native backend loader used by [Open].
// Calling it twice panics: exactly one execution backend may be linked
// into a binary.
func RegisterBackend(fn BackendLoader) {
	backendMu.Lock()
	defer backendMu.Unlock()
	if backend != nil {
		panic("inference: backend already registered")
	}
	backend = fn
}

// OpenOption configures [Open].
type OpenOption func(*openOptions)

type openOptions struct {
	expectedHash string
}

// WithExpectedHash makes Open verify the model file's SHA-256 before
// handing it to the backend. Comparison is case-insensitive; an empty hash
// skips verification.
func WithExpectedHash(hash string) OpenOption {
	return func(o *openOptions) { o.expectedHash = hash }
}

// Open validates the model artifact at path and loads it through the
// registered native backend.
//
// All failure modes wrap [ErrModelUnavailable]: a missing or unreadable
// file, a content hash mismatch, a binary built without a native backend,
// and backend load failures. Callers decide whether that is fatal or
// whether to fall back to [NewFallback].
func Open(path string, opts ...OpenOption) (Runner, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: stat model: %v", ErrModelUnavailable, err)
	}
	if err := VerifyContentHash(path, o.expectedHash); err != nil {
		return nil, err
	}

	backendMu.RLock()
	load := backend
	backendMu.RUnlock()
	if load == nil {
		return nil, fmt.Errorf("%w: no native backend linked into this binary", ErrModelUnavailable)
	}

	r, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load model %q: %v", ErrModelUnavailable, path, err)
	}
	return r, nil
}
