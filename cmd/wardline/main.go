// Command wardline runs the conversational response service: the safety
// pipeline behind an HTTP surface plus the background job scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wardline/wardline/ai"
	"github.com/wardline/wardline/ai/mock"
	"github.com/wardline/wardline/audit"
	"github.com/wardline/wardline/core"
	"github.com/wardline/wardline/lens"
	"github.com/wardline/wardline/metrics"
	"github.com/wardline/wardline/pipeline"
	"github.com/wardline/wardline/ratelimit"
	"github.com/wardline/wardline/retention"
	"github.com/wardline/wardline/scheduler"
	"github.com/wardline/wardline/shield"
	"github.com/wardline/wardline/sword"
	"github.com/wardline/wardline/telemetry"
	"github.com/wardline/wardline/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wardline: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	// .env is a development convenience; absence is fine
	godotenv.Load()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := core.NewZapLogger(cfg.LogLevel == "debug")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	store, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}

	auditLog, err := audit.NewLogger(audit.Options{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	limiter, err := ratelimit.NewLimiter(ratelimit.LimiterOptions{
		Store:  store,
		Tiers:  tierLimits(cfg),
		Logger: logger,
		AuditHook: func(ctx context.Context, scope, key string, hookErr error) {
			auditLog.Record(ctx, audit.Event{
				Category: audit.CategoryRateLimit,
				Action:   "limiter_failed_open",
				Details:  map[string]interface{}{"scope": scope, "key": key, "error": hookErr.Error()},
			})
		},
	})
	if err != nil {
		return err
	}

	aiRegistry, err := buildAIRegistry(cfg, logger)
	if err != nil {
		return err
	}

	executor := pipeline.NewExecutor(pipeline.Executor{
		Shield: shield.NewEngine(store, shield.Config{
			WarnAndContinue: cfg.Shield.WarnAndContinue,
			AckTokenTTL:     cfg.Shield.AckTokenTTL,
		}, logger),
		Lens: lens.NewOrchestrator(lens.OrchestratorOptions{
			Registry:  lens.NewProviderRegistry(logger),
			Logger:    logger,
			Telemetry: telemetry.New("wardline"),
		}),
		Detector: sword.NewDetector(logger),
		Spark:    sword.NewSparkGate(store, logger),
		Registry: aiRegistry,
		Audit:    auditLog,
		Timeout:  cfg.Pipeline.OverallTimeout,
		Logger:   logger,
	})

	collectors := metrics.New(prometheus.DefaultRegisterer)

	sched, err := buildScheduler(cfg, store, auditLog, logger)
	if err != nil {
		return err
	}

	server := transport.NewServer(transport.Options{
		Executor: executor,
		Limiter:  limiter,
		Store:    store,
		Logger:   logger,
		Metrics:  collectors,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		sched.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	sched.Stop()
	return nil
}

func buildStore(cfg *core.Config, logger core.Logger) (core.Store, error) {
	if cfg.Redis.URL == "" {
		logger.Warn("No redis url configured, using the in-memory store", nil)
		return core.NewMemoryStore(), nil
	}
	return core.NewRedisStore(core.RedisStoreOptions{
		RedisURL:  cfg.Redis.URL,
		Namespace: "wardline",
		Logger:    logger,
	})
}

func buildAIRegistry(cfg *core.Config, logger core.Logger) (*ai.Registry, error) {
	registry := ai.NewRegistry(logger)
	switch cfg.AI.Provider {
	case "", "mock":
		logger.Warn("Using the mock AI provider", nil)
		return registry, registry.Register("mock", mock.New())
	default:
		return nil, fmt.Errorf("unknown ai provider %q: %w", cfg.AI.Provider, core.ErrConfiguration)
	}
}

func buildScheduler(cfg *core.Config, store core.Store, auditLog *audit.Logger, logger core.Logger) (*scheduler.Scheduler, error) {
	instanceID := cfg.Scheduler.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()[:8]
	}

	sched, err := scheduler.New(scheduler.Options{
		Store:        store,
		InstanceID:   instanceID,
		TickInterval: cfg.Scheduler.TickInterval,
		LockMargin:   cfg.Scheduler.LockMargin,
		Logger:       logger,
		Audit:        auditLog,
	})
	if err != nil {
		return nil, err
	}

	enforcer := retention.NewEnforcer(store, retention.DefaultPolicies(), retention.Config{
		PurgeArchivesOnErasure: cfg.Retention.PurgeArchivesOnErasure,
	}, auditLog, logger)

	for _, def := range scheduler.RecurringJobs(scheduler.JobDeps{
		Store:            store,
		Audit:            auditLog,
		Logger:           logger,
		EnforceRetention: enforcer.EnforceAll,
	}) {
		if err := sched.Add(def); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func tierLimits(cfg *core.Config) map[string]ratelimit.Limit {
	tiers := make(map[string]ratelimit.Limit, len(cfg.RateLimit.Tiers))
	for name, tier := range cfg.RateLimit.Tiers {
		tiers[name] = ratelimit.Limit{
			Window:     time.Duration(tier.WindowMs) * time.Millisecond,
			MaxTokens:  tier.MaxTokens,
			RefillRate: tier.RefillRate,
		}
	}
	return tiers
}
