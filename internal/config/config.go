// Package config provides the configuration schema and loader for the
// faceprint embedding service.
package config

// LogLevel controls log verbosity for the faceprint service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Backend selects the vector database implementation.
type Backend string

const (
	// BackendQdrant talks to a Qdrant instance over its REST API.
	BackendQdrant Backend = "qdrant"

	// BackendPostgres uses PostgreSQL with the pgvector extension.
	BackendPostgres Backend = "postgres"
)

// IsValid reports whether b is a recognised storage backend.
func (b Backend) IsValid() bool {
	return b == BackendQdrant || b == BackendPostgres
}

// Config is the root configuration structure for faceprint.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Inference InferenceConfig `yaml:"inference"`
	Store     StoreConfig     `yaml:"store"`
}

// MetricsConfig holds the Prometheus scrape endpoint settings.
type MetricsConfig struct {
	// ListenAddr is the TCP address the /metrics endpoint listens on
	// (e.g. ":9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level controls verbosity. Defaults to "info" when empty.
	Level LogLevel `yaml:"level"`
}

// ModelConfig describes the embedding model artifact.
type ModelConfig struct {
	// Path is the filesystem path to the compiled model artifact.
	Path string `yaml:"path"`

	// ExpectedHash is the expected SHA-256 of the model file, hex-encoded.
	// When empty, integrity verification is skipped.
	ExpectedHash string `yaml:"expected_hash"`

	// InputName is the model's input tensor name. Defaults to "data".
	InputName string `yaml:"input_name"`
}

// EmbeddingConfig tunes the batch dispatcher.
type EmbeddingConfig struct {
	// MaxBatchSize is the hardware ceiling on images per inference call.
	// Defaults to 32 when zero.
	MaxBatchSize int `yaml:"max_batch_size"`

	// HeadroomFraction reserves a fraction of MaxBatchSize, in [0, 1).
	// The dispatcher flushes at floor(MaxBatchSize * (1 - HeadroomFraction)),
	// never below one image.
	HeadroomFraction float64 `yaml:"headroom_fraction"`

	// MaxConcurrentBatches caps in-flight inference calls. Zero means half
	// the available CPUs.
	MaxConcurrentBatches int `yaml:"max_concurrent_batches"`
}

// InferenceConfig controls runtime selection.
type InferenceConfig struct {
	// AllowFallback permits serving embeddings from the deterministic CPU
	// path when the native model cannot be loaded. Off by default: without
	// it a missing model is a startup failure.
	AllowFallback bool `yaml:"allow_fallback"`
}

// StoreConfig selects and configures the vector database.
type StoreConfig struct {
	// Backend selects the storage implementation.
	Backend Backend `yaml:"backend"`

	// Endpoint is the backend address: a base URL for qdrant
	// (e.g. "http://localhost:6333") or a DSN for postgres.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates qdrant requests. Ignored for postgres.
	APIKey string `yaml:"api_key"`

	// Collection is the collection (or table) name holding the vectors.
	Collection string `yaml:"collection"`

	// VectorSize is the embedding dimension the collection is created with.
	// Must be the model's output dimension (512); any other value fails
	// validation.
	VectorSize int `yaml:"vector_size"`

	// AutoCreateCollection creates the collection on first use when it does
	// not exist.
	AutoCreateCollection bool `yaml:"auto_create_collection"`
}
