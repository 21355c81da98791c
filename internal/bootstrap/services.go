package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"github.com/listpilot/listpilot/config"
	"github.com/listpilot/listpilot/internal/browser"
	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/data"
	"github.com/listpilot/listpilot/internal/domain/retry"
	httpx "github.com/listpilot/listpilot/internal/http"
	"github.com/listpilot/listpilot/internal/observability/statsd"
	"github.com/listpilot/listpilot/internal/oracle"
	"github.com/listpilot/listpilot/internal/queue"
	"github.com/listpilot/listpilot/internal/service"
)

// ServiceDeps carries the shared infrastructure the services are built on.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient *redis.Client
	Logger      *slog.Logger
}

// Services holds the constructed service graph.
type Services struct {
	Queue      *queue.Queue
	Subscriber *service.Subscriber
	Trigger    *service.AsyncTrigger
	Heartbeat  *service.HeartbeatPublisher
	Monitor    *service.Monitor
	Metrics    *statsd.Client
	Router     http.Handler
}

// NewServices constructs the full service graph from configuration.
func NewServices(deps *ServiceDeps) (*Services, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil || deps.RedisClient == nil {
		return nil, errors.New("service deps require config, db, and redis")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  cfg.Observability.Metrics.StatsdPrefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init statsd client: %w", err)
	}
	var sink statsd.Sink
	if metrics.Enabled() {
		sink = metrics
	}

	repoCfg := data.RepoConfig{Logger: logger}
	jobs := data.NewJobRepo(deps.DB, repoCfg)
	results := data.NewJobResultRepo(deps.DB, repoCfg)
	history := data.NewHistoryRepo(deps.DB, repoCfg)
	heartbeats := data.NewHeartbeatRepo(deps.DB, repoCfg)
	directories := data.NewDirectoryRepo(deps.DB)
	profiles := data.NewProfileRepo(deps.DB)

	q, err := queue.New(queue.Options{
		Client:            deps.RedisClient,
		KeyPrefix:         cfg.Queue.KeyPrefix,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxReceiveCount:   cfg.Queue.MaxReceiveCount,
		PollInterval:      cfg.Queue.PollInterval,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}

	planner, err := buildPlanner(cfg, logger)
	if err != nil {
		return nil, err
	}

	submitter := buildSubmitter(cfg, logger)

	workerID := cfg.Worker.WorkerID
	if workerID == "" {
		workerID, _ = os.Hostname()
	}

	tasks, err := service.NewTaskRunner(service.TaskOptions{
		Results:   results,
		Planner:   planner,
		Submitter: submitter,
		Retry: retry.Policy{
			MaxAttempts: cfg.Worker.RetryMaxAttempts,
			BaseDelay:   cfg.Worker.RetryBaseDelay,
			Factor:      2,
			Cap:         cfg.Worker.RetryCap,
			Jitter:      0.25,
		},
		TaskTimeout: cfg.Worker.TaskTimeout,
		Metrics:     sink,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init task runner: %w", err)
	}

	orchestrator, err := service.NewOrchestrator(service.OrchestratorOptions{
		Jobs:             jobs,
		Results:          results,
		History:          history,
		Directories:      directories,
		Profiles:         profiles,
		Tasks:            tasks,
		Concurrency:      cfg.Orchestrator.Concurrency,
		SuccessThreshold: cfg.Orchestrator.SuccessThreshold,
		WorkerID:         workerID,
		Metrics:          sink,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	heartbeat, err := service.NewHeartbeatPublisher(service.HeartbeatOptions{
		Heartbeats: heartbeats,
		WorkerID:   workerID,
		Interval:   cfg.Worker.HeartbeatInterval,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init heartbeat publisher: %w", err)
	}

	trigger := &service.AsyncTrigger{
		Jobs:         jobs,
		Orchestrator: orchestrator,
		Load:         heartbeat,
		Logger:       logger,
	}

	subscriber, err := service.NewSubscriber(service.SubscriberOptions{
		Queue:            q,
		History:          history,
		Trigger:          trigger,
		BatchSize:        cfg.Subscriber.BatchSize,
		PollWait:         cfg.Subscriber.PollWait,
		BreakerThreshold: cfg.Subscriber.BreakerThreshold,
		BreakerCooldown:  cfg.Subscriber.BreakerCooldown,
		WorkerID:         workerID,
		Metrics:          sink,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init subscriber: %w", err)
	}

	monitor, err := service.NewMonitor(service.MonitorOptions{
		Heartbeats:         heartbeats,
		Results:            results,
		History:            history,
		Queue:              q,
		HeartbeatInterval:  cfg.Worker.HeartbeatInterval,
		StaleMultiplier:    cfg.Monitor.StaleMultiplier,
		StaleSchedule:      cfg.Monitor.StaleSchedule,
		RetentionSchedule:  cfg.Monitor.RetentionSchedule,
		ResultMaxAge:       cfg.Monitor.ResultMaxAge,
		HistoryMaxAge:      cfg.Monitor.HistoryMaxAge,
		RetentionBatchSize: cfg.Monitor.RetentionBatchSize,
		Metrics:            sink,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init monitor: %w", err)
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Jobs:             jobs,
		Results:          results,
		History:          history,
		Heartbeats:       heartbeats,
		Queue:            q,
		Changes:          data.NewChangeFeed(deps.DB),
		OracleConfigured: cfg.Oracle.BaseURL != "",
		AuthConfigured:   cfg.Oracle.AuthConfigured(),
		Logger:           logger,
	})

	return &Services{
		Queue:      q,
		Subscriber: subscriber,
		Trigger:    trigger,
		Heartbeat:  heartbeat,
		Monitor:    monitor,
		Metrics:    metrics,
		Router:     router,
	}, nil
}

// buildPlanner composes the oracle client with the heuristic fallback. With
// no oracle configured the heuristic planner runs alone.
func buildPlanner(cfg *config.AppConfig, logger *slog.Logger) (core.Planner, error) {
	heuristic := oracle.NewHeuristicPlanner(logger)
	if cfg.Oracle.BaseURL == "" {
		logger.Info("no oracle configured, planning heuristically")
		return heuristic, nil
	}

	opts := oracle.ClientOptions{
		BaseURL: cfg.Oracle.BaseURL,
		Timeout: cfg.Oracle.Timeout,
		Logger:  logger,
	}
	if cfg.Oracle.AuthConfigured() {
		opts.OAuth = &clientcredentials.Config{
			ClientID:     cfg.Oracle.ClientID,
			ClientSecret: cfg.Oracle.ClientSecret,
			TokenURL:     cfg.Oracle.TokenURL,
		}
	}
	client, err := oracle.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("init oracle client: %w", err)
	}

	return &oracle.WithFallback{Primary: client, Fallback: heuristic, Logger: logger}, nil
}

func buildSubmitter(cfg *config.AppConfig, logger *slog.Logger) core.Submitter {
	var solver core.CaptchaSolver
	if cfg.Browser.CaptchaSolverURL != "" {
		client, err := browser.NewCaptchaClient(cfg.Browser.CaptchaSolverURL, cfg.Browser.CaptchaTimeout)
		if err != nil {
			logger.Warn("captcha solver disabled", "error", err)
		} else {
			solver = client
		}
	}

	return browser.NewSubmitter(browser.SubmitterOptions{
		ScreenshotDir: cfg.Browser.ScreenshotDir,
		PageTimeout:   cfg.Browser.PageTimeout,
		SettleDelay:   cfg.Browser.SettleDelay,
		Headless:      cfg.Browser.Headless,
		Solver:        solver,
		Logger:        logger,
	})
}

// RunServicesWithShutdown starts the enabled services and blocks until a
// shutdown signal or a fatal service error.
func RunServicesWithShutdown(cfg *config.AppConfig, services *Services, logger *slog.Logger) error {
	if cfg == nil || services == nil {
		return errors.New("config and services are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeSubscriber] {
		g.Go(func() error {
			if err := services.Subscriber.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("subscriber: %w", err)
			}
			return nil
		})
	}
	if enabled[config.ServiceModeWorker] {
		g.Go(func() error {
			if err := services.Heartbeat.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("heartbeat publisher: %w", err)
			}
			return nil
		})
	}
	if enabled[config.ServiceModeMonitor] {
		g.Go(func() error {
			if err := services.Monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		})
	}

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server = &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      services.Router,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
		g.Go(func() error {
			logger.InfoContext(gctx, "http server listening", "addr", cfg.HTTP.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown failed", "error", err)
			}
			return nil
		})
	}

	runErr := g.Wait()

	// Let in-flight job flows drain before the process exits; their contexts
	// are detached from the poll loop on purpose.
	logger.Info("waiting for in-flight jobs to drain")
	services.Trigger.Wait()

	if services.Metrics != nil {
		if err := services.Metrics.Close(); err != nil {
			logger.Error("close statsd client failed", "error", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}
