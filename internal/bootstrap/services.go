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
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/clipscore/config"
	"github.com/target/clipscore/internal/adapters/artifacts"
	"github.com/target/clipscore/internal/adapters/processor"
	redisadapter "github.com/target/clipscore/internal/adapters/redis"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/data"
	"github.com/target/clipscore/internal/domain/job"
	httpx "github.com/target/clipscore/internal/http"
	"github.com/target/clipscore/internal/observability/statsd"
	"github.com/target/clipscore/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs   *service.JobService
	Runner *service.RunnerService
	// Queue is the dispatch channel shared by submission, workers and the reaper.
	Queue core.JobQueue
	// Hub serves /ws; it is the local event sink on every instance.
	Hub *httpx.EventHub
	// EventBus is set when events are relayed across instances through Redis.
	EventBus      *redisadapter.JobEventBus
	Observability ObservabilityContainer
	// Readiness lists the dependency probes served on /readyz.
	Readiness map[string]httpx.ReadinessCheck

	pgQueue *data.PGJobQueue
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   statsd.Sink
	MetricsClient *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink. A statsd failure degrades to no metrics.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{MetricsSink: statsd.Nop{}, MetricsConfig: cfg.Metrics}
	if !cfg.Metrics.IsEnabled() {
		return out
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  obsLogger,
	})
	if err != nil {
		obsLogger.Error("failed to initialise statsd client", "error", err)
		return out
	}
	out.MetricsSink = client
	out.MetricsClient = client
	return out
}

// NewJobQueue selects the dispatch backend. The PGJobQueue is returned separately so
// callers can stop its listener.
//
//nolint:ireturn // the backend is chosen at runtime.
func NewJobQueue(cfg *config.AppConfig, repo *data.JobRepo, rdb redis.UniversalClient, logger *slog.Logger) (core.JobQueue, *data.PGJobQueue, error) {
	if cfg.Queue.Backend == config.QueueBackendRedis {
		if rdb == nil {
			return nil, nil, errors.New("redis queue backend requires a redis client")
		}
		q, err := redisadapter.NewJobQueue(redisadapter.JobQueueOptions{
			Client: rdb,
			Name:   cfg.Queue.Name,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis job queue: %w", err)
		}
		return q, nil, nil
	}

	q, err := data.NewPGJobQueue(data.PGJobQueueOptions{
		Repo:       repo,
		WaitWindow: cfg.Worker.PollWait,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres job queue: %w", err)
	}
	return q, q, nil
}

// newJobCache returns the Redis status cache when enabled.
//
//nolint:ireturn // nil interface when caching is off.
func newJobCache(cfg config.CacheConfig, rdb redis.UniversalClient) core.JobCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	return data.NewRedisJobCache(rdb, cfg.JobTTL)
}

func newProcessorClient(cfg config.ProcessorConfig, logger *slog.Logger, metrics statsd.Sink) (*processor.Client, error) {
	retry, err := job.NewRetryPolicy(cfg.MaxAttempts, job.ExponentialJitter{
		Initial: cfg.BackoffInitial,
		Max:     cfg.BackoffMax,
	})
	if err != nil {
		return nil, fmt.Errorf("processor retry policy: %w", err)
	}
	return processor.NewClient(processor.Config{
		URL:            cfg.URL,
		Timeout:        cfg.Timeout,
		FramesPerVideo: cfg.FramesPerVideo,
		Retry:          retry,
		Logger:         logger,
		Metrics:        metrics,
	})
}

// NewServices builds every service the enabled modes need.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs := buildObservability(logger, cfg.Observability)
	repo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger, Lease: cfg.Worker.Lease})

	queue, pgQueue, err := NewJobQueue(cfg, repo, deps.RedisClient, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	store, err := artifacts.NewLocalStore(artifacts.LocalStoreOptions{Dir: cfg.HTTP.UploadsDir, Logger: logger})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("artifact store: %w", err)
	}

	hub := httpx.NewEventHub(logger)
	var (
		events core.JobEventPublisher = hub
		bus    *redisadapter.JobEventBus
	)
	if cfg.Redis.EventsEnabled && deps.RedisClient != nil {
		bus, err = redisadapter.NewJobEventBus(deps.RedisClient, logger)
		if err != nil {
			return ServiceContainer{}, fmt.Errorf("job event bus: %w", err)
		}
		events = bus
	}
	cache := newJobCache(cfg.Cache, deps.RedisClient)

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:      repo,
		Artifacts: store,
		Queue:     queue,
		Cache:     cache,
		Events:    events,
		Logger:    logger,
		Metrics:   obs.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("job service: %w", err)
	}

	proc, err := newProcessorClient(cfg.Processor, logger, obs.MetricsSink)
	if err != nil {
		return ServiceContainer{}, err
	}
	runner, err := service.NewRunnerService(service.RunnerServiceOptions{
		Repo:            repo,
		Artifacts:       store,
		Processor:       proc,
		DescribeFailure: processor.FailureMessage,
		Cache:           cache,
		Events:          events,
		Logger:          logger,
		Metrics:         obs.MetricsSink,
		Lease:           cfg.Worker.Lease,
		Heartbeat:       cfg.Worker.HeartbeatInterval(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("runner service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Runner:        runner,
		Queue:         queue,
		Hub:           hub,
		EventBus:      bus,
		Observability: obs,
		Readiness:     readinessChecks(deps.DB, deps.RedisClient),
		pgQueue:       pgQueue,
	}, nil
}

func readinessChecks(db *sql.DB, rdb redis.UniversalClient) map[string]httpx.ReadinessCheck {
	checks := make(map[string]httpx.ReadinessCheck, 2)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// Close releases resources owned by the container.
func (c *ServiceContainer) Close() {
	if c.pgQueue != nil {
		c.pgQueue.Close()
	}
	if c.Hub != nil {
		c.Hub.Close()
	}
	if c.Observability.MetricsClient != nil {
		_ = c.Observability.MetricsClient.Close()
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "job worker",
		start: func(ctx context.Context) error {
			var workerCfg config.WorkerConfig
			if deps.cfg.Config != nil {
				workerCfg = deps.cfg.Config.Worker
			}
			return RunWorker(ctx, WorkerConfig{
				Queue:   deps.cfg.Services.Queue,
				Runner:  deps.cfg.Services.Runner,
				Config:  workerCfg,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			return RunReaper(ctx, ReaperConfig{
				DB:      deps.cfg.DB,
				Queue:   deps.cfg.Services.Queue,
				Logger:  deps.logger,
				Config:  reaperCfg,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

// newEventRelayBackgroundService forwards Redis job events into the local hub. It
// runs alongside the HTTP server, which is the only consumer of the hub.
func newEventRelayBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeHTTP,
		name: "job event relay",
		start: func(ctx context.Context) error {
			return deps.cfg.Services.EventBus.Relay(ctx, deps.cfg.Services.Hub, nil)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil || deps.cfg == nil {
		return nil
	}
	services := []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
	if deps.cfg.Services.EventBus != nil && deps.cfg.Services.Hub != nil {
		services = append(services, newEventRelayBackgroundService(deps))
	}
	return services
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	httpShutdown := shutdownWaitTimeout
	if cfg.Config.HTTP.ShutdownTimeout > 0 {
		httpShutdown = cfg.Config.HTTP.ShutdownTimeout
	}

	return waitForShutdown(shutdownConfig{
		ctx:          serviceCtx,
		cancel:       cancel,
		errCh:        errCh,
		httpServer:   result.HTTPServer,
		httpShutdown: httpShutdown,
		hub:          cfg.Services.Hub,
		logger:       logger,
		backgrounds:  result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

// errorChannelBufferSize leaves room for every service plus the event relay.
func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx          context.Context
	cancel       context.CancelFunc
	errCh        <-chan error
	httpServer   *http.Server
	httpShutdown time.Duration
	hub          *httpx.EventHub
	logger       *slog.Logger
	backgrounds  []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops the HTTP server, then waits for background services. Workers
// finish the jobs they already claimed before their done channel closes.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		// The service context is already canceled; shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.httpShutdown)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Hub:     cfg.hub,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
