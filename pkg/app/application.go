package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/reportq/internal/metrics"
	"github.com/osvaldoandrade/reportq/internal/middleware"
	"github.com/osvaldoandrade/reportq/internal/providers"
	"github.com/osvaldoandrade/reportq/internal/ratelimit"
	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/internal/services"
	"github.com/osvaldoandrade/reportq/internal/tracing"
	"github.com/osvaldoandrade/reportq/internal/worker"
	"github.com/osvaldoandrade/reportq/pkg/auth"
	"github.com/osvaldoandrade/reportq/pkg/config"
	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/extension"
	"github.com/osvaldoandrade/reportq/pkg/reportstore"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const serviceName = "reportq"

type Application struct {
	Config *config.Config
	Engine *gin.Engine
	Logger *slog.Logger
	TZ     *time.Location

	Redis       *redis.Client
	Store       reportstore.Store
	Tasks       repository.TaskRepository
	Root        *container.Container
	Submissions services.SubmissionService
	TaskSvc     services.TaskService
	Retention   services.RetentionService
	Catalog     services.StepCatalog
	Workers     *worker.Pool
	RateLimiter ratelimit.Limiter

	ProducerValidator auth.Validator
	AdminValidator    auth.Validator
	TracingShutdown   func(context.Context) error

	providers  func() []extension.Provider
	background *errgroup.Group
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithProducerValidator sets a custom producer validator
func WithProducerValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.ProducerValidator = validator
		return nil
	}
}

// WithAdminValidator sets a separate validator for /admin routes
func WithAdminValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.AdminValidator = validator
		return nil
	}
}

// WithRedisClient reuses an existing client instead of dialing cfg.RedisAddr.
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

// WithReportStore bypasses the configured store provider.
func WithReportStore(store reportstore.Store) ApplicationOption {
	return func(app *Application) error {
		app.Store = store
		return nil
	}
}

// WithExtensions replaces the registered extension providers for task containers.
func WithExtensions(fn func() []extension.Provider) ApplicationOption {
	return func(app *Application) error {
		app.providers = fn
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg, providers: extension.Providers}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}
	app.TZ = loc
	app.Logger = newLogger(cfg)

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		OTLPInsecure: cfg.Tracing.Insecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.TracingShutdown = shutdown

	if app.Redis == nil {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	}
	metrics.RegisterRedisCollector(app.Redis, app.Logger)

	if app.Store == nil {
		storeCfg, err := cfg.ReportStore()
		if err != nil {
			return nil, fmt.Errorf("report store config: %w", err)
		}
		app.Store, err = reportstore.New(storeCfg, reportstore.PluginConfig{Redis: app.Redis})
		if err != nil {
			return nil, err
		}
	}

	app.Tasks = repository.NewTaskRepository(app.Redis, loc, repository.WithLease(cfg.TaskLease()))
	subjects := repository.NewSubjectRepository(app.Redis, loc)
	permissions := repository.NewPermissionRepository(app.Redis)

	app.Root = container.New(nil, container.WithName("root"), container.WithLogger(app.Logger))
	err = app.Root.RegisterMany([]container.Component{
		container.Ready(app.Store),
		container.Ready(subjects),
		container.Ready(permissions),
		container.Ready(repository.NewAnalysisRepository(app.Redis)),
		container.Ready(repository.NewSettingsRepository(app.Redis)),
		container.Ready(cfg.SettingsDefaults()),
		container.Ready(providers.NewLocalUploader(cfg.DumpDir)),
	})
	if err != nil {
		return nil, fmt.Errorf("root container: %w", err)
	}

	app.Submissions = services.NewSubmissionService(app.Tasks, subjects, permissions, app.Store, app.Logger, time.Now)
	app.TaskSvc = services.NewTaskService(app.Tasks)
	app.Retention = services.NewRetentionService(app.Tasks, app.Store, app.Logger, cfg.TaskRetentionHours, cfg.RetentionIntervalSeconds)
	app.Catalog = services.NewStepCatalog(app.Root, app.providers)
	app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	app.Workers = worker.NewPool(app.Root, app.Tasks, app.providers, app.Logger, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		IdleBackoff: cfg.IdleBackoff(),
		WorkerID:    hostname,
	})

	if app.ProducerValidator == nil && cfg.ProducerAuthProvider != "" {
		pc, err := cfg.ProducerAuth()
		if err != nil {
			return nil, fmt.Errorf("producer auth config: %w", err)
		}
		if app.ProducerValidator, err = auth.NewValidator(pc); err != nil {
			return nil, err
		}
	}
	if app.AdminValidator == nil && cfg.AdminAuthProvider != "" {
		pc, err := cfg.AdminAuth()
		if err != nil {
			return nil, fmt.Errorf("admin auth config: %w", err)
		}
		if app.AdminValidator, err = auth.NewValidator(pc); err != nil {
			return nil, err
		}
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(serviceName),
		middleware.LoggerMiddleware(app.Logger),
	)
	app.Engine = engine

	return app, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", serviceName, "env", cfg.Env)
	slog.SetDefault(logger)
	return logger
}

// Start launches the worker pool and the retention loop. They stop when ctx is
// cancelled; Close waits for them.
func (a *Application) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Retention.Start(gctx)
		return nil
	})
	g.Go(func() error { return a.Workers.Run(gctx) })
	a.background = g
	a.Logger.Info("background services started", "workers", a.Config.WorkerConcurrency)
}

// Close releases everything NewApplication opened. Cancel the context given to
// Start first.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.background != nil {
		if err := a.background.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.Root.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close report store: %w", err))
	}
	if err := a.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	if a.TracingShutdown != nil {
		if err := a.TracingShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
