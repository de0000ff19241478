// Package main is the entry point of the Schedule Hub worker process.
//
// The worker owns the scheduled weekly rollover: once a week it closes
// ended weeks, freezes performance snapshots and advances or reseeds
// every due instance. A Redis lock keeps concurrent worker replicas
// from starting parallel runs; the run itself is idempotent, so a
// crash mid-run is repaired by the next scheduled run or a manual
// trigger through the API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/planloop/schedule-hub/config"
	"github.com/planloop/schedule-hub/internal/application/command"
	"github.com/planloop/schedule-hub/internal/application/eventhandler"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/infrastructure/external/webhook"
	"github.com/planloop/schedule-hub/internal/infrastructure/messaging"
	"github.com/planloop/schedule-hub/internal/infrastructure/persistence/postgres"
	"github.com/planloop/schedule-hub/internal/infrastructure/persistence/redis"
	"github.com/planloop/schedule-hub/internal/infrastructure/scheduler"
	"github.com/planloop/schedule-hub/internal/infrastructure/scheduler/jobs"
	"github.com/planloop/schedule-hub/internal/infrastructure/service"
	"github.com/planloop/schedule-hub/pkg/timeutil"
)

// healthProbeInterval is how often the worker pings its backing stores.
const healthProbeInterval = 5 * time.Minute

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Schedule Hub worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"reset_enabled", cfg.Reset.Enabled,
		"reset_schedule", cfg.Reset.Schedule,
	)

	timeutil.DefaultZone = cfg.App.Location

	if !cfg.Reset.Enabled {
		log.Warn("scheduled reset is disabled, worker has nothing to do (RESET_ENABLED=false)")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (the rollover lock is mandatory here)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Redis.Disabled {
		return fmt.Errorf("the worker requires Redis for the rollover lock (REDIS_DISABLED=true)")
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	cache, err := redis.NewCache(redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer cache.Close()

	reportCache := redis.NewReportCache(cache)
	resetLock := redis.NewResetLock(cache, "weekly_reset", cfg.Reset.LockTTL)
	instanceLocks := redis.NewInstanceLocks(cache, 2*cfg.Reset.InstanceTimeout)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	templateRepo := postgres.NewTemplateRepository(dbConn)
	instanceRepo := postgres.NewInstanceRepository(dbConn)
	progressRepo := postgres.NewProgressRepository(dbConn)
	snapshotRepo := postgres.NewSnapshotRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. OUTBOUND NOTIFICATIONS
	// ─────────────────────────────────────────────────────────────────────────
	webhookCfg := webhook.DefaultClientConfig(cfg.Notifier.WebhookURL)
	webhookCfg.Secret = cfg.Notifier.Secret
	webhookCfg.Timeout = cfg.Notifier.RequestTimeout
	webhookCfg.MaxRetries = cfg.Notifier.MaxRetries
	webhookCfg.FailureThreshold = cfg.Notifier.CircuitBreakerThreshold
	webhookCfg.BreakerTimeout = cfg.Notifier.CircuitBreakerTimeout
	webhookCfg.HalfOpenMax = cfg.Notifier.CircuitBreakerHalfOpenMax
	webhookCfg.Logger = log
	webhookClient := webhook.NewClient(webhookCfg)

	notifier := service.NewNotifierService(webhookClient, cfg.Features, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	eventBus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	onWeekAdvanced := eventhandler.NewOnWeekAdvancedHandler(reportCache, notifier, log)
	if err := eventBus.Subscribe(shared.EventWeekAdvanced, onWeekAdvanced.Handle); err != nil {
		return fmt.Errorf("failed to subscribe week advanced handler: %w", err)
	}

	onResetCompleted := eventhandler.NewOnResetCompletedHandler(notifier, log)
	if err := eventBus.Subscribe(shared.EventResetBatchCompleted, onResetCompleted.Handle); err != nil {
		return fmt.Errorf("failed to subscribe reset completed handler: %w", err)
	}

	onResetFailed := eventhandler.NewOnResetFailedHandler(notifier, log)
	if err := eventBus.Subscribe(shared.EventResetInstanceFailed, onResetFailed.Handle); err != nil {
		return fmt.Errorf("failed to subscribe reset failed handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	runReset := command.NewRunResetHandler(
		instanceRepo, templateRepo, progressRepo, snapshotRepo, eventBus, instanceLocks,
		command.RunResetHandlerConfig{
			StreakThreshold: cfg.Reset.StreakThreshold,
			BatchSize:       cfg.Reset.BatchSize,
			MaxConcurrency:  cfg.Reset.MaxConcurrency,
			InstanceTimeout: cfg.Reset.InstanceTimeout,
			Location:        cfg.App.Location,
		})

	resetJob := jobs.NewWeeklyResetJob(runReset, resetLock, log, cfg.Reset.RunTimeout)

	schedule, err := scheduler.ParseWeeklySchedule(cfg.Reset.Schedule, cfg.App.Location)
	if err != nil {
		return fmt.Errorf("invalid reset schedule %q: %w", cfg.Reset.Schedule, err)
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: cfg.App.Location,
	})
	if err := sched.Register(resetJob, schedule); err != nil {
		return fmt.Errorf("failed to register weekly reset job: %w", err)
	}

	healthJob := jobs.NewHealthProbeJob(dbConn, cache, log)
	if err := sched.Register(healthJob, scheduler.NewIntervalSchedule(healthProbeInterval)); err != nil {
		return fmt.Errorf("failed to register health probe job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	log.Info("Schedule Hub worker is running",
		"job", resetJob.Name(),
		"schedule", schedule.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop failed", "error", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger configures structured logging for the process.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
