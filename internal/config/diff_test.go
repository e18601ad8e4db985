package config

import "testing"

func baseConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: LogInfo},
		Model: ModelConfig{
			Path:      "/models/face_embedder.onnx",
			InputName: "data",
		},
		Embedding: EmbeddingConfig{MaxBatchSize: 32, HeadroomFraction: 0.25},
		Store: StoreConfig{
			Backend:    BackendQdrant,
			Endpoint:   "http://localhost:6333",
			Collection: "faces",
			VectorSize: 512,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	d := Diff(old, new)
	if d != (ConfigDiff{}) {
		t.Errorf("Diff of identical configs = %+v, want zero", d)
	}
	if d.RestartRequired() {
		t.Error("RestartRequired() = true for identical configs")
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Logging.Level = LogDebug

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("Diff = %+v, want LogLevelChanged with debug", d)
	}
	if d.RestartRequired() {
		t.Error("RestartRequired() = true for log level change, want false")
	}
}

func TestDiff_RestartRequiredChanges(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"model path", func(c *Config) { c.Model.Path = "/models/other.onnx" }},
		{"batch size", func(c *Config) { c.Embedding.MaxBatchSize = 64 }},
		{"fallback flag", func(c *Config) { c.Inference.AllowFallback = true }},
		{"store endpoint", func(c *Config) { c.Store.Endpoint = "http://qdrant:6333" }},
		{"collection", func(c *Config) { c.Store.Collection = "faces_v2" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			if d := Diff(old, new); !d.RestartRequired() {
				t.Errorf("Diff = %+v, want RestartRequired", d)
			}
		})
	}
}
