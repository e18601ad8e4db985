// Command faceprint runs the face embedding and vector storage service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/serval-ai/faceprint/internal/config"
	"github.com/serval-ai/faceprint/internal/health"
	"github.com/serval-ai/faceprint/internal/observe"
	"github.com/serval-ai/faceprint/internal/resilience"
	"github.com/serval-ai/faceprint/pkg/embedding"
	"github.com/serval-ai/faceprint/pkg/imageproc"
	"github.com/serval-ai/faceprint/pkg/inference"
	"github.com/serval-ai/faceprint/pkg/vectorstore"
	"github.com/serval-ai/faceprint/pkg/vectorstore/postgres"
	"github.com/serval-ai/faceprint/pkg/vectorstore/qdrant"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "faceprint: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "faceprint: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := &slog.LevelVar{}
	logLevel.Set(slogLevel(cfg.Logging.Level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("faceprint starting",
		"config", *configPath,
		"log_level", cfg.Logging.Level,
		"store_backend", cfg.Store.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "faceprint",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Model runner ──────────────────────────────────────────────────────────
	runner, err := buildRunner(cfg)
	if err != nil {
		slog.Error("failed to load model", "err", err)
		return 1
	}
	info := runner.Info()
	slog.Info("model loaded",
		"name", info.Name,
		"version", info.Version,
		"backend", info.Backend,
		"vector_size", info.VectorSize,
		"input_size", info.InputSize,
		"content_hash", info.ContentHash,
	)
	if units, ok := runner.(inference.ComputeUnitReporter); ok {
		metrics.SetActiveComputeUnits(ctx, units.ActiveComputeUnits())
	}

	// ── Embedding service ─────────────────────────────────────────────────────
	svc, err := embedding.New(runner,
		embedding.WithInputName(cfg.Model.InputName),
		embedding.WithMaxBatchSize(cfg.Embedding.MaxBatchSize),
		embedding.WithHeadroomFraction(cfg.Embedding.HeadroomFraction),
		embedding.WithMaxConcurrentBatches(cfg.Embedding.MaxConcurrentBatches),
		embedding.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create embedding service", "err", err)
		return 1
	}
	slog.Info("embedding service ready",
		"max_batch_size", cfg.Embedding.MaxBatchSize,
		"headroom_fraction", cfg.Embedding.HeadroomFraction,
		"effective_batch_size", svc.EffectiveBatchSize(),
	)

	// ── Vector store ──────────────────────────────────────────────────────────
	client, closeClient, err := buildStorageClient(ctx, cfg)
	if err != nil {
		slog.Error("failed to create storage client", "err", err)
		return 1
	}
	defer closeClient()

	store, err := vectorstore.NewStore(client, cfg.Store.Collection, cfg.Store.VectorSize,
		vectorstore.WithAutoCreate(cfg.Store.AutoCreateCollection),
		vectorstore.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create vector store", "err", err)
		return 1
	}
	if err := store.EnsureCollectionReady(ctx); err != nil {
		slog.Error("collection not ready", "collection", cfg.Store.Collection, "err", err)
		return 1
	}
	slog.Info("vector store ready",
		"backend", cfg.Store.Backend,
		"collection", cfg.Store.Collection,
		"vector_size", cfg.Store.VectorSize,
	)

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.RestartRequired() {
			slog.Warn("configuration changed in ways that require a restart to take effect")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Metrics and health endpoint ───────────────────────────────────────────
	var srv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(
			health.Checker{Name: "store", Check: store.EnsureCollectionReady},
			health.Checker{Name: "model", Optional: true, Check: func(context.Context) error {
				if units, ok := runner.(inference.ComputeUnitReporter); ok && units.ActiveComputeUnits() == 0 {
					return errors.New("no active compute units, running deterministic CPU path")
				}
				return nil
			}},
		).Register(mux)

		srv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics endpoint error", "err", err)
			}
		}()
	}

	slog.Info("service ready — press Ctrl+C to shut down")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics endpoint shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// buildRunner loads the configured model, falling back to the deterministic
// CPU path only when explicitly allowed.
func buildRunner(cfg *config.Config) (inference.Runner, error) {
	if cfg.Model.Path != "" {
		runner, err := inference.Open(cfg.Model.Path,
			inference.WithExpectedHash(cfg.Model.ExpectedHash),
		)
		if err == nil {
			return runner, nil
		}
		if !cfg.Inference.AllowFallback {
			return nil, err
		}
		slog.Warn("native model unavailable — continuing in degraded CPU mode", "err", err)
	}
	return inference.NewFallback(cfg.Store.VectorSize, imageproc.TargetSize)
}

// buildStorageClient constructs the configured storage backend, wrapped in
// a circuit breaker so a failing database trips callers into fail-fast mode.
// The returned close function releases backend resources; it is a no-op for
// backends without pooled connections.
func buildStorageClient(ctx context.Context, cfg *config.Config) (vectorstore.StorageClient, func(), error) {
	var (
		client vectorstore.StorageClient
		closer func()
	)
	switch cfg.Store.Backend {
	case config.BackendQdrant:
		var opts []qdrant.Option
		if cfg.Store.APIKey != "" {
			opts = append(opts, qdrant.WithAPIKey(cfg.Store.APIKey))
		}
		qc, err := qdrant.New(cfg.Store.Endpoint, opts...)
		if err != nil {
			return nil, nil, err
		}
		client, closer = qc, func() {}

	case config.BackendPostgres:
		pc, err := postgres.New(ctx, cfg.Store.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		client, closer = pc, pc.Close

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	wrapped := resilience.WrapStorageClient(client, resilience.CircuitBreakerConfig{
		Name: string(cfg.Store.Backend),
	})
	return wrapped, closer, nil
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
