// Command candlecore wires the candle aggregation engine's components
// (pipeline, aggregator, store, metrics, optional notifier) into a single
// running process.
//
// Grounded on the teacher's cmd/main.go lifecycle — initialize() → start()
// → waitForShutdown() → shutdown() — generalized away from its WebSocket
// broadcaster and per-exchange worker registration toward this engine's
// ring-buffer pipeline and background sweep/metrics workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"candlecore/internal/aggregator"
	"candlecore/internal/config"
	"candlecore/internal/events"
	"candlecore/internal/metrics"
	"candlecore/internal/notify"
	"candlecore/internal/pipeline"
	"candlecore/internal/store"
	"candlecore/internal/worker"
	pkgredis "candlecore/pkg/redis"
)

// Engine owns every long-lived component of the running process.
type Engine struct {
	cfg *config.Config
	log *zap.Logger

	store      *store.BoltStore
	metrics    *metrics.Metrics
	aggregator *aggregator.Aggregator
	ring       *pipeline.RingBuffer
	notifier   *notify.Notifier
	supervisor *worker.Supervisor

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	app := &Engine{}

	if err := app.initialize(); err != nil {
		fmt.Printf("failed to initialize candlecore: %v\n", err)
		os.Exit(1)
	}
	if err := app.start(); err != nil {
		fmt.Printf("failed to start candlecore: %v\n", err)
		os.Exit(1)
	}

	app.waitForShutdown()

	if err := app.shutdown(); err != nil {
		fmt.Printf("error during shutdown: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("candlecore stopped gracefully")
}

func (app *Engine) initialize() error {
	var err error
	app.ctx, app.cancel = context.WithCancel(context.Background())

	app.log, err = app.setupLogger()
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}

	configPath := resolveConfigPath()
	app.cfg, err = config.NewConfigLoader().LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if lvl, lerr := zapcore.ParseLevel(app.cfg.Logging.Level); lerr == nil {
		app.log, err = app.setupLoggerAtLevel(lvl)
		if err != nil {
			return fmt.Errorf("rebuild logger at configured level: %w", err)
		}
	}
	app.log.Info("configuration loaded",
		zap.String("path", configPath),
		zap.Int("pipeline_buffer_size", app.cfg.Pipeline.BufferSize),
		zap.Int64("late_tolerance_ms", app.cfg.LateEvent.ToleranceMs),
	)

	if dir := filepath.Dir(app.cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	app.store, err = store.Open(app.cfg.Store.Path, app.log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	app.metrics = metrics.New(app.log)

	app.aggregator = aggregator.New(aggregator.Config{
		ToleranceMs:    app.cfg.LateEvent.ToleranceMs,
		AllowedSymbols: app.cfg.AllowedSymbolSet(),
	}, app.store, app.metrics, app.log)

	strategy, err := pipeline.ParseWaitStrategy(app.cfg.Pipeline.WaitStrategy)
	if err != nil {
		return fmt.Errorf("parse wait strategy: %w", err)
	}
	app.ring, err = pipeline.NewRingBuffer(app.cfg.Pipeline.BufferSize, strategy, app.metrics, app.log)
	if err != nil {
		return fmt.Errorf("new ring buffer: %w", err)
	}

	if app.cfg.Notify.Enabled {
		client, err := pkgredis.NewClient(pkgredis.ClientConfig{
			Addr: app.cfg.Notify.RedisAddress(),
			DB:   app.cfg.Notify.RedisDB,
		}, app.log)
		if err != nil {
			return fmt.Errorf("connect notify redis: %w", err)
		}
		app.notifier = notify.New(client, app.log, app.cfg.Notify.ChannelPrefix, app.cfg.Notify.BufferSize, app.cfg.Notify.MaxPerSecond)
		app.aggregator.OnComplete(app.notifier.Notify)
	}

	app.supervisor = worker.NewSupervisor(app.log)
	app.log.Info("core components initialized")
	return nil
}

func (app *Engine) setupLogger() (*zap.Logger, error) {
	return app.setupLoggerAtLevel(zapcore.InfoLevel)
}

// setupLoggerAtLevel builds a logger at the given level. Called once at
// bootstrap (before configuration is available) and again right after
// config.LoadConfig succeeds, so logging.level from the config file governs
// every log line after startup.
func (app *Engine) setupLoggerAtLevel(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stdout"}
	return cfg.Build()
}

func resolveConfigPath() string {
	if p := os.Getenv("CANDLECORE_CONFIG"); p != "" {
		return p
	}
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	renderPath := filepath.Join(execDir, "configs", "config_render.yaml")
	if _, err := os.Stat(renderPath); err == nil {
		return renderPath
	}
	return filepath.Join(execDir, "configs", "config.yaml")
}

func (app *Engine) start() error {
	app.log.Info("starting candlecore")

	if err := app.ring.Start(app.cfg.Pipeline.Consumers, app.handleEvent); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	if app.cfg.Metrics.Enabled {
		if err := app.metrics.Start(app.cfg.Metrics.Port); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	if app.cfg.Store.RetentionMs > 0 {
		if err := app.supervisor.Add(worker.Config{
			Name:           "store-retention-sweep",
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2,
		}, app.retentionSweepWorker); err != nil {
			return fmt.Errorf("register retention worker: %w", err)
		}
	}

	if err := app.supervisor.Start(); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	app.log.Info("candlecore started",
		zap.Int("pipeline_consumers", app.cfg.Pipeline.Consumers),
		zap.String("metrics_port", app.cfg.Metrics.Port),
	)
	return nil
}

// handleEvent is the pipeline's per-sequence handler: fold the event into
// the aggregator. Completion notification, if enabled, runs off this path
// via the aggregator's OnComplete hook.
func (app *Engine) handleEvent(ev events.BidAskEvent) {
	app.aggregator.Process(ev)
}

func (app *Engine) retentionSweepWorker(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(app.cfg.Store.SweepEvery) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UnixMilli() - app.cfg.Store.RetentionMs
			n, err := app.store.DeleteOlderThan(cutoff)
			if err != nil {
				app.log.Warn("retention sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				app.log.Info("retention sweep removed candles", zap.Int("count", n))
			}
		}
	}
}

func (app *Engine) waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	app.log.Info("shutdown signal received")
}

func (app *Engine) shutdown() error {
	app.log.Info("shutting down candlecore")
	app.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ring.Shutdown(ctx); err != nil {
		app.log.Warn("pipeline shutdown error", zap.Error(err))
	}
	if err := app.aggregator.FlushAll(); err != nil {
		app.log.Warn("flush_all error", zap.Error(err))
	}
	if err := app.supervisor.Stop(); err != nil {
		app.log.Warn("supervisor stop error", zap.Error(err))
	}
	if app.notifier != nil {
		app.notifier.Close()
	}
	if app.cfg.Metrics.Enabled {
		if err := app.metrics.Stop(); err != nil {
			app.log.Warn("metrics stop error", zap.Error(err))
		}
	}
	if err := app.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
