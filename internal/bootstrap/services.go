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
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/adapters/archive"
	"github.com/target/ticket-enhancer/internal/adapters/jobrunner"
	"github.com/target/ticket-enhancer/internal/adapters/llm"
	"github.com/target/ticket-enhancer/internal/adapters/reaper"
	"github.com/target/ticket-enhancer/internal/adapters/sources"
	"github.com/target/ticket-enhancer/internal/adapters/ticketing"
	"github.com/target/ticket-enhancer/internal/adapters/usage"
	"github.com/target/ticket-enhancer/internal/core"
	"github.com/target/ticket-enhancer/internal/data"
	"github.com/target/ticket-enhancer/internal/data/cryptoutil"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/ports"
	"github.com/target/ticket-enhancer/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Tenants       *service.TenantService
	Ingest        *service.IngestService
	Jobs          *service.JobService
	Orchestrator  *service.Orchestrator
	Monitor       *service.QueueMonitor
	Usage         *usage.Publisher
	JobRepo       *data.JobRepo
	Observability ObservabilityContainer
}

// Close releases clients that hold network resources.
func (c ServiceContainer) Close() error {
	var errs []error
	if c.Usage != nil {
		if err := c.Usage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close usage publisher: %w", err))
		}
	}
	if err := c.Observability.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close statsd client: %w", err))
	}
	return errors.Join(errs...)
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB        *sql.DB
	Redis     redis.UniversalClient
	JobRepo   *data.JobRepo
	Results   *data.ResultRepo
	Tenants   *data.TenantRepo
	CacheRepo core.CacheRepository
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(cfg *config.AppConfig, db *sql.DB, rdb redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	tp := &data.RealTimeProvider{}
	repos := &serviceRepositories{
		DB:    db,
		Redis: rdb,
		JobRepo: data.NewJobRepo(db, data.RepoConfig{
			MaxRetries:               cfg.Queue.MaxRedeliveries,
			RetryDelay:               cfg.Queue.RetryDelay,
			MaxRetryDelay:            cfg.Queue.MaxRetryDelay,
			DefaultTenantConcurrency: cfg.Queue.DefaultTenantConcurrency,
			Logger:                   logger,
			TimeProvider:             tp,
		}),
		Results: data.NewResultRepo(db, tp),
		Tenants: data.NewTenantRepo(db, data.TenantRepoOptions{TimeProvider: tp, Logger: logger}),
	}
	// A typed nil would defeat the nil checks in DedupGuard and WithCache.
	if rdb != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(rdb, data.RedisCacheOptions{OpTimeout: cfg.Redis.OpTimeout})
	}
	return repos
}

// tenantDefaults maps process configuration onto the fallbacks every tenant inherits.
func tenantDefaults(cfg *config.AppConfig) tenant.Defaults {
	return tenant.Defaults{
		JobDeadline:        cfg.Pipeline.JobDeadline,
		JobDeadlineCeiling: cfg.Pipeline.JobDeadlineCeiling,
		MaxConcurrentJobs:  cfg.Queue.DefaultTenantConcurrency,
		Model:              cfg.LLM.DefaultModel,
		MaxPromptBytes:     cfg.Pipeline.MaxPromptBytes,
		SourceTimeout:      cfg.Sources.DefaultTimeout,
		SourceRetries:      cfg.Sources.DefaultRetries,
		EnabledSources:     cfg.Sources.Enabled,
	}
}

func cacheKeyPrefix(cfg *config.AppConfig) string {
	if cfg.Redis.KeyPrefix == "" {
		return "enhancer"
	}
	return cfg.Redis.KeyPrefix
}

func newTenantService(
	repos *serviceRepositories,
	cfg *config.AppConfig,
	enc cryptoutil.Encryptor,
	logger *slog.Logger,
) (*service.TenantService, error) {
	return service.NewTenantService(service.TenantServiceOptions{
		Repo:      repos.Tenants,
		Encryptor: enc,
		Defaults:  tenantDefaults(cfg),
		Logger:    logger,
	})
}

func newIngestService(
	repos *serviceRepositories,
	tenants *service.TenantService,
	cfg *config.AppConfig,
	obs ObservabilityContainer,
	logger *slog.Logger,
) (*service.IngestService, error) {
	return service.NewIngestService(service.IngestServiceOptions{
		Tenants: tenants,
		Jobs:    repos.JobRepo,
		Dedup: core.NewDedupGuard(core.DedupGuardOptions{
			Cache:     repos.CacheRepo,
			KeyPrefix: cacheKeyPrefix(cfg) + ":dedup",
			Retention: cfg.Webhook.DedupRetention,
		}),
		Config:          cfg.Webhook,
		MaxRedeliveries: cfg.Queue.MaxRedeliveries,
		Metrics:         obs.Metrics,
		Logger:          logger,
	})
}

func newJobService(repos *serviceRepositories, cfg *config.AppConfig, obs ObservabilityContainer, logger *slog.Logger) (*service.JobService, error) {
	return service.NewJobService(service.JobServiceOptions{
		Repo:         repos.JobRepo,
		DeadSet:      repos.JobRepo,
		DefaultLease: cfg.Worker.JobLease,
		Logger:       logger,
		Metrics:      obs.Metrics,
	})
}

// newContextSources builds the registered sources, wrapping each in the Redis
// result cache when one is configured.
func newContextSources(repos *serviceRepositories, cfg *config.AppConfig, logger *slog.Logger) []ports.ContextSource {
	built := sources.New(sources.Options{
		HTTPClient:    &http.Client{Timeout: cfg.Pipeline.JobDeadlineCeiling},
		MaxIndicators: cfg.Sources.MaxIndicators,
	})
	if repos.CacheRepo == nil {
		return built
	}
	wrapped := make([]ports.ContextSource, 0, len(built))
	for _, src := range built {
		wrapped = append(wrapped, sources.WithCache(src, sources.CacheOptions{
			Cache:     repos.CacheRepo,
			TTL:       cfg.Sources.CacheTTL,
			KeyPrefix: cacheKeyPrefix(cfg) + ":source",
			Logger:    logger,
		}))
	}
	return wrapped
}

// orchestratorDeps groups the optional outbound adapters of the orchestrator.
type orchestratorDeps struct {
	usage   *usage.Publisher
	archive ports.ResultArchiver
}

func buildOutboundAdapters(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) orchestratorDeps {
	var deps orchestratorDeps

	if cfg.Observability.Usage.IsEnabled() {
		pub, err := usage.NewPublisher(usage.PublisherOptions{
			Config: cfg.Observability.Usage,
			Logger: logger,
		})
		if err != nil {
			logger.Error("failed to initialise usage publisher", "error", err)
		} else {
			deps.usage = pub
		}
	}

	if cfg.Observability.Archive.IsEnabled() {
		arch, err := archive.NewS3Archiver(ctx, cfg.Observability.Archive)
		if err != nil {
			logger.Error("failed to initialise result archive", "error", err)
		} else {
			deps.archive = arch
		}
	}

	return deps
}

func newOrchestrator(
	repos *serviceRepositories,
	tenants *service.TenantService,
	cfg *config.AppConfig,
	obs ObservabilityContainer,
	outbound orchestratorDeps,
	logger *slog.Logger,
) (*service.Orchestrator, error) {
	aggregator, err := service.NewAggregator(service.AggregatorOptions{
		Sources: newContextSources(repos, cfg, logger),
		Metrics: obs.Metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build aggregator: %w", err)
	}

	synthesizer, err := llm.NewClient(llm.Options{Config: cfg.LLM, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	opts := service.OrchestratorOptions{
		Jobs:        repos.JobRepo,
		Results:     repos.Results,
		Tenants:     tenants,
		Gatherer:    aggregator,
		Synthesizer: synthesizer,
		Tickets:     ticketing.NewClient(ticketing.Options{Config: cfg.Ticketing, Logger: logger}),
		Alerter:     obs.Alerts,
		MaxTokens:   cfg.LLM.MaxTokens,
		Metrics:     obs.Metrics,
		Logger:      logger,
	}
	if outbound.usage != nil {
		opts.Usage = outbound.usage
	}
	if outbound.archive != nil {
		opts.Archive = outbound.archive
	}
	return service.NewOrchestrator(opts)
}

// NewServices builds every service the enabled roles need. The orchestrator and its
// outbound clients are only built when the worker role runs.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database connection is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enc, err := CreateEncryptor(cfg.SecretsEncryptionKey, cfg.IsDev, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	obs := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(cfg, deps.DB, deps.RedisClient, logger)
	container := ServiceContainer{JobRepo: repos.JobRepo, Observability: obs}

	if container.Tenants, err = newTenantService(repos, cfg, enc, logger); err != nil {
		return container, fmt.Errorf("build tenant service: %w", err)
	}
	if container.Ingest, err = newIngestService(repos, container.Tenants, cfg, obs, logger); err != nil {
		return container, fmt.Errorf("build ingest service: %w", err)
	}
	if container.Jobs, err = newJobService(repos, cfg, obs, logger); err != nil {
		return container, fmt.Errorf("build job service: %w", err)
	}
	container.Monitor, err = service.NewQueueMonitor(service.QueueMonitorOptions{
		Queue:   container.Jobs,
		Config:  cfg.Monitor,
		Metrics: obs.Metrics,
		Alerter: obs.Alerts,
		Logger:  logger,
	})
	if err != nil {
		return container, fmt.Errorf("build queue monitor: %w", err)
	}

	if cfg.IsServiceEnabled(config.ServiceModeWorker) {
		outbound := buildOutboundAdapters(context.Background(), cfg, logger)
		container.Usage = outbound.usage
		if container.Orchestrator, err = newOrchestrator(repos, container.Tenants, cfg, obs, outbound, logger); err != nil {
			return container, fmt.Errorf("build orchestrator: %w", err)
		}
	}

	return container, nil
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
		Config:      deps.cfg.Config,
		Services:    deps.cfg.Services,
		DB:          deps.cfg.DB,
		RedisClient: deps.cfg.RedisClient,
		Logger:      deps.logger,
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
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
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
		name: "worker",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			if svc.Orchestrator == nil {
				return errors.New("orchestrator not initialised")
			}
			runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
				Queue:     svc.Jobs,
				Processor: svc.Orchestrator,
				Config:    deps.cfg.Config.Worker,
				Logger:    deps.logger,
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			opts := reaper.RunnerOptions{
				DB:      deps.cfg.DB,
				Config:  deps.cfg.Config.Reaper,
				Queue:   deps.cfg.Config.Queue,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.Metrics.Sink(),
			}
			if repo := deps.cfg.Services.JobRepo; repo != nil {
				opts.Repo = repo
			}
			runner, err := reaper.NewRunner(opts)
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func newMonitorBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeMonitor,
		name: "queue monitor",
		start: func(ctx context.Context) error {
			if deps.cfg.Services.Monitor == nil {
				return errors.New("queue monitor not initialised")
			}
			return deps.cfg.Services.Monitor.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
		newMonitorBackgroundService(deps),
	}
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
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
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

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		jobService:  cfg.Services.Jobs,
		logger:      logger,
		backgrounds: result.Background,
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

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	jobService  *service.JobService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	// signals replaces SIGINT/SIGTERM in tests.
	signals <-chan os.Signal
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := cfg.signals
	if quit == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		quit = ch
	}

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop drains HTTP first so no webhook is accepted after workers stop, then
// cancels the background services. Workers abandon their leases on cancel; the
// reaper hands those jobs to another worker once the lease expires.
func gracefulStop(cfg shutdownConfig) error {
	var httpErr error
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		httpErr = ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		})
	}

	if cfg.cancel != nil {
		cfg.cancel()
	}
	if cfg.jobService != nil {
		cfg.jobService.StopAllListeners()
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return httpErr
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
