package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultVectorSize is the output dimension of the face embedding model.
const DefaultVectorSize = 512

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in the documented defaults for fields left unset.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogInfo
	}
	if cfg.Model.InputName == "" {
		cfg.Model.InputName = "data"
	}
	if cfg.Embedding.MaxBatchSize == 0 {
		cfg.Embedding.MaxBatchSize = 32
	}
	if cfg.Store.VectorSize == 0 {
		cfg.Store.VectorSize = DefaultVectorSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}

	// Model
	if cfg.Model.Path == "" && !cfg.Inference.AllowFallback {
		errs = append(errs, errors.New("model.path is required unless inference.allow_fallback is enabled"))
	}
	if cfg.Model.Path == "" && cfg.Inference.AllowFallback {
		slog.Warn("model.path is empty; embeddings will come from the deterministic CPU path and are not comparable to model output")
	}
	if cfg.Model.ExpectedHash != "" && len(cfg.Model.ExpectedHash) != 64 {
		errs = append(errs, fmt.Errorf("model.expected_hash %q is not a hex-encoded SHA-256", cfg.Model.ExpectedHash))
	}

	// Embedding
	if cfg.Embedding.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("embedding.max_batch_size %d must be at least 1", cfg.Embedding.MaxBatchSize))
	}
	if cfg.Embedding.HeadroomFraction < 0 || cfg.Embedding.HeadroomFraction >= 1 {
		errs = append(errs, fmt.Errorf("embedding.headroom_fraction %.2f is out of range [0, 1)", cfg.Embedding.HeadroomFraction))
	}
	if cfg.Embedding.MaxConcurrentBatches < 0 {
		errs = append(errs, fmt.Errorf("embedding.max_concurrent_batches %d must not be negative", cfg.Embedding.MaxConcurrentBatches))
	}

	// Store
	if !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: qdrant, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == BackendPostgres && cfg.Store.Endpoint == "" {
		errs = append(errs, errors.New("store.endpoint (a DSN) is required when store.backend is postgres"))
	}
	if cfg.Store.Collection == "" {
		errs = append(errs, errors.New("store.collection is required"))
	}
	if cfg.Store.VectorSize != DefaultVectorSize {
		errs = append(errs, fmt.Errorf("store.vector_size %d is not supported; the embedding model produces %d-dimensional vectors", cfg.Store.VectorSize, DefaultVectorSize))
	}
	if cfg.Store.APIKey != "" && cfg.Store.Backend == BackendPostgres {
		slog.Warn("store.api_key is set but ignored for the postgres backend")
	}

	return errors.Join(errs...)
}
