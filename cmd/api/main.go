// Package main is the entry point of the Schedule Hub API process.
//
// The API serves the REST surface of the schedule engine: template
// management, student assignment, activity transitions, weekly reports
// and the manual reset trigger. The scheduled weekly rollover runs in
// the worker process (cmd/worker); both processes share the same
// database and the same reset handler, so a manual trigger through the
// API is interchangeable with a scheduled run.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/planloop/schedule-hub/config"
	"github.com/planloop/schedule-hub/internal/application/command"
	"github.com/planloop/schedule-hub/internal/application/eventhandler"
	"github.com/planloop/schedule-hub/internal/application/query"
	"github.com/planloop/schedule-hub/internal/domain/shared"
	"github.com/planloop/schedule-hub/internal/infrastructure/external/webhook"
	"github.com/planloop/schedule-hub/internal/infrastructure/messaging"
	"github.com/planloop/schedule-hub/internal/infrastructure/persistence/postgres"
	"github.com/planloop/schedule-hub/internal/infrastructure/persistence/redis"
	"github.com/planloop/schedule-hub/internal/infrastructure/service"
	httpapi "github.com/planloop/schedule-hub/internal/interface/http"
	"github.com/planloop/schedule-hub/pkg/logger"
	"github.com/planloop/schedule-hub/pkg/timeutil"
)

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
	log.Info("starting Schedule Hub API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	timeutil.DefaultZone = cfg.App.Location

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
	// 4. REDIS (optional: a missing cache degrades reads, never writes)
	// ─────────────────────────────────────────────────────────────────────────
	var cache *redis.Cache
	var reportCache *redis.ReportCache

	if !cfg.Redis.Disabled {
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

		cache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, report caching disabled", "error", err)
		} else {
			defer cache.Close()
			reportCache = redis.NewReportCache(cache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	templateRepo := postgres.NewTemplateRepository(dbConn)
	instanceRepo := postgres.NewInstanceRepository(dbConn)
	progressRepo := postgres.NewProgressRepository(dbConn)
	snapshotRepo := postgres.NewSnapshotRepository(dbConn)
	rosterRepo := postgres.NewRosterRepository(dbConn)
	studentRepo := postgres.NewStudentRepository(dbConn)
	completionStore := postgres.NewCompletionStore(dbConn)

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

	var invalidator eventhandler.CacheInvalidator
	if reportCache != nil {
		invalidator = reportCache
	}

	onWeekAdvanced := eventhandler.NewOnWeekAdvancedHandler(invalidator, notifier, log)
	if err := eventBus.Subscribe(shared.EventWeekAdvanced, onWeekAdvanced.Handle); err != nil {
		return fmt.Errorf("failed to subscribe week advanced handler: %w", err)
	}

	onTransition := eventhandler.NewOnActivityTransitionHandler(invalidator, log)
	for _, eventType := range onTransition.EventTypes() {
		if err := eventBus.Subscribe(eventType, onTransition.Handle); err != nil {
			return fmt.Errorf("failed to subscribe activity transition handler: %w", err)
		}
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
	// 8. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	createTemplate := command.NewCreateTemplateHandler(templateRepo)
	forkTemplate := command.NewForkTemplateHandler(templateRepo, eventBus)
	archiveTemplate := command.NewArchiveTemplateHandler(templateRepo)
	assignStudents := command.NewAssignStudentsHandler(
		templateRepo, instanceRepo, progressRepo, rosterRepo, studentRepo, eventBus, cfg.App.Location)
	transitionActivity := command.NewTransitionActivityHandler(
		progressRepo, instanceRepo, templateRepo, completionStore, rosterRepo, eventBus)
	instanceStatus := command.NewInstanceStatusHandler(instanceRepo, rosterRepo)

	// Forced runs through the API take per-instance locks so they can
	// overlap the worker's scheduled run without racing on the same rows.
	var resetLocks command.InstanceLocker
	if cache != nil {
		resetLocks = redis.NewInstanceLocks(cache, 2*cfg.Reset.InstanceTimeout)
	}

	runReset := command.NewRunResetHandler(
		instanceRepo, templateRepo, progressRepo, snapshotRepo, eventBus, resetLocks,
		command.RunResetHandlerConfig{
			StreakThreshold: cfg.Reset.StreakThreshold,
			BatchSize:       cfg.Reset.BatchSize,
			MaxConcurrency:  cfg.Reset.MaxConcurrency,
			InstanceTimeout: cfg.Reset.InstanceTimeout,
			Location:        cfg.App.Location,
		})

	getWeeklyReport := query.NewGetWeeklyReportHandler(instanceRepo, progressRepo, snapshotRepo, rosterRepo)
	getInstanceProgress := query.NewGetInstanceProgressHandler(instanceRepo, progressRepo, rosterRepo)
	listTemplates := query.NewListTemplatesHandler(templateRepo)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	identity, err := service.NewTokenIdentity(cfg.Server.APITokens, log)
	if err != nil {
		return fmt.Errorf("failed to load API tokens: %w", err)
	}

	apiLogger := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	})

	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.IdleTimeout = cfg.Server.IdleTimeout

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		CreateTemplateHandler:      createTemplate,
		ForkTemplateHandler:        forkTemplate,
		ArchiveTemplateHandler:     archiveTemplate,
		AssignStudentsHandler:      assignStudents,
		TransitionActivityHandler:  transitionActivity,
		InstanceStatusHandler:      instanceStatus,
		RunResetHandler:            runReset,
		GetWeeklyReportHandler:     getWeeklyReport,
		GetInstanceProgressHandler: getInstanceProgress,
		ListTemplatesHandler:       listTemplates,
		Identity:                   identity,
		ReportCache:                reportCache,
		Logger:                     apiLogger,
		HealthChecker:              &healthChecker{db: dbConn, cache: cache},
	})

	errCh := server.StartAsync()
	log.Info("Schedule Hub API is running", "address", server.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// healthChecker reports the state of the API's backing stores.
type healthChecker struct {
	db    *postgres.Connection
	cache *redis.Cache
}

func (h *healthChecker) Check(ctx context.Context) httpapi.HealthStatus {
	status := httpapi.HealthStatus{
		Healthy:    true,
		Ready:      true,
		Components: make(map[string]string),
	}

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Ready = false
		status.Message = "database unreachable"
		status.Components["postgres"] = err.Error()
	} else {
		status.Components["postgres"] = "ok"
	}

	// The cache is optional; a dead Redis degrades reads but the API
	// stays up.
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status.Components["redis"] = err.Error()
		} else {
			status.Components["redis"] = "ok"
		}
	}

	return status
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
