package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/serval-ai/faceprint/internal/config"
)

// validYAML is a complete configuration that passes validation.
const validYAML = `
logging:
  level: debug
model:
  path: /models/face_embedder.onnx
  input_name: data
embedding:
  max_batch_size: 32
  headroom_fraction: 0.25
store:
  backend: qdrant
  endpoint: http://localhost:6333
  collection: faces
  vector_size: 512
  auto_create_collection: true
`

func TestLoadFromReader_ValidConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.Level != config.LogDebug {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Store.Backend != config.BackendQdrant {
		t.Errorf("store.backend = %q, want qdrant", cfg.Store.Backend)
	}
	if cfg.Embedding.MaxBatchSize != 32 {
		t.Errorf("embedding.max_batch_size = %d, want 32", cfg.Embedding.MaxBatchSize)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
model:
  path: /models/face_embedder.onnx
store:
  backend: qdrant
  collection: faces
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.Level != config.LogInfo {
		t.Errorf("logging.level = %q, want default info", cfg.Logging.Level)
	}
	if cfg.Model.InputName != "data" {
		t.Errorf("model.input_name = %q, want default data", cfg.Model.InputName)
	}
	if cfg.Embedding.MaxBatchSize != 32 {
		t.Errorf("embedding.max_batch_size = %d, want default 32", cfg.Embedding.MaxBatchSize)
	}
	if cfg.Store.VectorSize != config.DefaultVectorSize {
		t.Errorf("store.vector_size = %d, want default %d", cfg.Store.VectorSize, config.DefaultVectorSize)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
model:
  path: /models/face_embedder.onnx
  typo_field: oops
store:
  backend: qdrant
  collection: faces
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MissingModelPathWithoutFallback(t *testing.T) {
	t.Parallel()
	yaml := `
store:
  backend: qdrant
  collection: faces
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing model.path, got nil")
	}
	if !strings.Contains(err.Error(), "model.path") {
		t.Errorf("error should mention model.path, got: %v", err)
	}
}

func TestValidate_MissingModelPathWithFallbackIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
inference:
  allow_fallback: true
store:
  backend: qdrant
  collection: faces
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
logging:
  level: verbose
model:
  path: /models/face_embedder.onnx
store:
  backend: qdrant
  collection: faces
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("error should mention logging.level, got: %v", err)
	}
}

func TestValidate_InvalidBackend(t *testing.T) {
	t.Parallel()
	yaml := `
model:
  path: /models/face_embedder.onnx
store:
  backend: redis
  collection: faces
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid backend, got nil")
	}
	if !strings.Contains(err.Error(), "store.backend") {
		t.Errorf("error should mention store.backend, got: %v", err)
	}
}

func TestValidate_PostgresRequiresEndpoint(t *testing.T) {
	t.Parallel()
	yaml := `
model:
  path: /models/face_embedder.onnx
store:
  backend: postgres
  collection: faces
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without endpoint, got nil")
	}
	if !strings.Contains(err.Error(), "store.endpoint") {
		t.Errorf("error should mention store.endpoint, got: %v", err)
	}
}

func TestValidate_HeadroomOutOfRange(t *testing.T) {
	t.Parallel()
	for _, headroom := range []string{"1.0", "-0.1"} {
		yaml := `
model:
  path: /models/face_embedder.onnx
embedding:
  headroom_fraction: ` + headroom + `
store:
  backend: qdrant
  collection: faces
`
		_, err := config.LoadFromReader(strings.NewReader(yaml))
		if err == nil {
			t.Fatalf("expected error for headroom_fraction %s, got nil", headroom)
		}
		if !strings.Contains(err.Error(), "headroom_fraction") {
			t.Errorf("error should mention headroom_fraction, got: %v", err)
		}
	}
}

func TestValidate_BadExpectedHash(t *testing.T) {
	t.Parallel()
	yaml := `
model:
  path: /models/face_embedder.onnx
  expected_hash: abc123
store:
  backend: qdrant
  collection: faces
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for malformed hash, got nil")
	}
	if !strings.Contains(err.Error(), "expected_hash") {
		t.Errorf("error should mention expected_hash, got: %v", err)
	}
}

func TestValidate_WrongVectorSize(t *testing.T) {
	t.Parallel()
	for _, size := range []string{"256", "-1"} {
		yaml := `
model:
  path: /models/face_embedder.onnx
store:
  backend: qdrant
  collection: faces
  vector_size: ` + size + `
`
		_, err := config.LoadFromReader(strings.NewReader(yaml))
		if err == nil {
			t.Fatalf("expected error for vector_size %s, got nil", size)
		}
		if !strings.Contains(err.Error(), "vector_size") {
			t.Errorf("error should mention vector_size, got: %v", err)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
logging:
  level: shouty
embedding:
  max_batch_size: -4
store:
  backend: redis
  collection: faces
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"logging.level", "max_batch_size", "store.backend"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Collection != "faces" {
		t.Errorf("store.collection = %q, want faces", cfg.Store.Collection)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
