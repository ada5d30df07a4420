// Command flowdeck runs the workflow orchestration service: it wires the
// configured store, the engine, the background runner, the Prometheus
// endpoint, and the schedule-trigger poll loop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dantwoashim/flowdeck/config"
	"github.com/dantwoashim/flowdeck/internal/metrics"
	"github.com/dantwoashim/flowdeck/internal/telemetry"
	"github.com/dantwoashim/flowdeck/notify"
	"github.com/dantwoashim/flowdeck/store"
	"github.com/dantwoashim/flowdeck/workflow"
)

func main() {
	configPath := flag.String("config", "flowdeck.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		panic(err)
	}
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("flowdeck exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	st, err := buildStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
	}()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	deadLetters := workflow.NewDeadLetterQueue(st, cfg.DeadLetter.Cap, cfg.DeadLetter.EscalationAge, logger)
	engine := workflow.NewEngine(st, newSimulationExecutor(), logger,
		workflow.WithPlanner(newHeuristicPlanner()),
		workflow.WithDeadLetterQueue(deadLetters),
		workflow.WithActivitySink(buildActivitySink(cfg.Store, logger)),
		workflow.WithNotificationSink(notify.NewLogNotificationSink(logger)),
		workflow.WithKnowledgeSink(notify.NewLogKnowledgeSink(logger)),
		workflow.WithCollector(collector),
	)
	runner := workflow.NewRunner(engine, workflow.RunnerConfig{
		MaxConcurrentRuns: cfg.Runner.MaxConcurrentRuns,
		DefaultTimeout:    cfg.Runner.DefaultTimeout,
		HeartbeatWindow:   cfg.Runner.HeartbeatWindow,
	}, logger)
	defer runner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		go pollSchedules(ctx, cfg.Scheduler, engine, runner, logger)
	}

	logger.Info("flowdeck started",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// buildStore assembles the configured persistence layer. The twotier
// driver layers a local SQLite tier under a remote Redis tier.
func buildStore(cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	redisCfg := store.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		PoolSize:  10,
	}
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.SQLitePath, logger)
	case "redis":
		return store.NewRedisStore(redisCfg, logger)
	case "twotier":
		local, err := store.NewSQLiteStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		remote, err := store.NewRedisStore(redisCfg, logger)
		if err != nil {
			return nil, err
		}
		return store.NewTwoTierStore(local, remote, store.TwoTierConfig{
			ReconcileInterval: cfg.ReconcileInterval,
		}, logger), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics endpoint stopped", zap.Error(err))
	}
}

// buildActivitySink publishes lifecycle events to the Redis activity
// stream when a Redis connection is configured, and to the log
// otherwise. Both are wrapped with a rate limiter so a hot loop cannot
// flood the stream.
func buildActivitySink(cfg config.StoreConfig, logger *zap.Logger) notify.ActivitySink {
	var inner notify.ActivitySink = notify.NewLogActivitySink(logger)
	if cfg.Driver == "redis" || cfg.Driver == "twotier" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		inner = notify.NewRedisActivitySink(client, cfg.Redis.KeyPrefix+"activity", 10000, logger)
	}
	return notify.NewRateLimitedActivitySink(inner, 50, 100, logger)
}

// pollSchedules scans the configured users for due scheduled workflows
// and submits each to the background runner.
func pollSchedules(ctx context.Context, cfg config.SchedulerConfig, engine *workflow.Engine, runner *workflow.Runner, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	log := logger.With(zap.String("component", "scheduler"))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, userID := range cfg.Users {
				due, err := engine.DueScheduledWorkflows(ctx, userID, now)
				if err != nil {
					log.Warn("due-workflow scan failed", zap.String("user_id", userID), zap.Error(err))
					continue
				}
				for _, wf := range due {
					if err := runner.Submit(ctx, userID, wf.ID, wf.Trigger.Kind); err != nil {
						log.Warn("submit failed",
							zap.String("workflow_id", wf.ID),
							zap.Error(err))
					}
				}
			}
		}
	}
}
