package config

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied without a restart; the remaining flags tell the caller that
// a restart is needed for the change to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ModelChanged is true when the model path, hash, or input name differ.
	ModelChanged bool

	// EmbeddingChanged is true when any batch dispatcher tuning differs.
	EmbeddingChanged bool

	// StoreChanged is true when the storage backend settings differ.
	StoreChanged bool

	// MetricsChanged is true when the metrics endpoint address differs.
	MetricsChanged bool
}

// RestartRequired reports whether the diff contains changes that cannot be
// applied to a running process.
func (d ConfigDiff) RestartRequired() bool {
	return d.ModelChanged || d.EmbeddingChanged || d.StoreChanged || d.MetricsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Logging.Level != new.Logging.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Logging.Level
	}
	if old.Model != new.Model {
		d.ModelChanged = true
	}
	if old.Embedding != new.Embedding || old.Inference != new.Inference {
		d.EmbeddingChanged = true
	}
	if old.Store != new.Store {
		d.StoreChanged = true
	}
	if old.Metrics != new.Metrics {
		d.MetricsChanged = true
	}

	return d
}
