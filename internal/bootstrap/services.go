package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/skycourier/skycourier/config"
	"github.com/skycourier/skycourier/internal/adapters/dispatch"
	"github.com/skycourier/skycourier/internal/core"
	"github.com/skycourier/skycourier/internal/data"
	httpx "github.com/skycourier/skycourier/internal/http"
	"github.com/skycourier/skycourier/internal/mail"
	"github.com/skycourier/skycourier/internal/service"
	"github.com/skycourier/skycourier/internal/weather"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Schedules  *service.ScheduleService
	Dispatcher *service.DispatcherService
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient *redis.Client
	Logger      *slog.Logger
}

// NewServices wires repositories, the weather client, the mail transport, and
// the services on top of them.
func NewServices(deps ServiceDeps) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, errors.New("app config is required")
	}
	if deps.DB == nil {
		return nil, errors.New("database connection is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scheduleRepo := data.NewScheduleRepo(deps.DB)
	deliveryLogRepo := data.NewDeliveryLogRepo(deps.DB)

	schedules := service.NewScheduleService(service.ScheduleServiceOptions{
		Schedules:   scheduleRepo,
		DeliveryLog: deliveryLogRepo,
		Logger:      logger,
	})

	dispatcher, err := buildDispatcher(dispatcherDeps{
		cfg:         deps.Config,
		schedules:   scheduleRepo,
		deliveryLog: deliveryLogRepo,
		redisClient: deps.RedisClient,
		logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &ServiceContainer{
		Schedules:  schedules,
		Dispatcher: dispatcher,
	}, nil
}

type dispatcherDeps struct {
	cfg         *config.AppConfig
	schedules   core.ScheduleRepository
	deliveryLog core.DeliveryLogRepository
	redisClient *redis.Client
	logger      *slog.Logger
}

// buildDispatcher assembles the dispatch pipeline. Skipped entirely when the
// dispatcher service mode is disabled.
func buildDispatcher(deps dispatcherDeps) (*service.DispatcherService, error) {
	if !deps.cfg.IsDispatcherEnabled() {
		return nil, nil
	}

	fetcher, err := buildWeatherFetcher(deps)
	if err != nil {
		return nil, fmt.Errorf("build weather client: %w", err)
	}

	sender, err := mail.NewSMTPSender(mail.Config{
		Host:     deps.cfg.Mail.Host,
		Port:     deps.cfg.Mail.Port,
		Username: deps.cfg.Mail.Username,
		Password: deps.cfg.Mail.Password,
		From:     deps.cfg.Mail.From,
		Timeout:  deps.cfg.Mail.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build mail sender: %w", err)
	}

	dispatcherCfg := core.DispatcherConfig{
		BatchSize:           deps.cfg.Dispatch.BatchSize,
		MaxDeliveryAttempts: deps.cfg.Dispatch.MaxDeliveryAttempts,
	}
	return service.NewDispatcherService(service.DispatcherServiceOptions{
		Schedules:   deps.schedules,
		DeliveryLog: deps.deliveryLog,
		Weather:     fetcher,
		Sender:      sender,
		Config:      &dispatcherCfg,
		Logger:      deps.logger,
	}), nil
}

// buildWeatherFetcher returns the provider client, wrapped with the Redis
// reading cache when one is configured.
func buildWeatherFetcher(deps dispatcherDeps) (weather.Fetcher, error) {
	client, err := weather.NewClient(weather.Config{
		BaseURL: deps.cfg.Weather.BaseURL,
		Timeout: deps.cfg.Weather.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if deps.redisClient == nil {
		return client, nil
	}
	return weather.NewCachedClient(weather.CachedClientOptions{
		Fetcher: client,
		Cache:   data.NewRedisCacheRepo(deps.redisClient),
		TTL:     deps.cfg.Cache.WeatherTTL,
		Logger:  deps.logger,
	}), nil
}

// ServiceOrchestrationConfig groups everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and blocks until a
// shutdown signal arrives or a service fails. Services run in an errgroup;
// the first failure cancels the rest.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Services == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeHTTP] {
		group.Go(func() error {
			return runHTTPServer(groupCtx, cfg, logger)
		})
	}

	if enabled[config.ServiceModeDispatcher] {
		if cfg.Services.Dispatcher == nil {
			return errors.New("dispatcher service enabled but not built")
		}
		runner, runnerErr := dispatch.NewRunner(dispatch.RunnerOptions{
			Dispatcher: cfg.Services.Dispatcher,
			Interval:   cfg.Config.Dispatch.Interval,
			Logger:     logger,
		})
		if runnerErr != nil {
			return fmt.Errorf("build dispatch runner: %w", runnerErr)
		}
		group.Go(func() error {
			return runner.Run(groupCtx)
		})
	}

	if waitErr := group.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	logger.Info("all services stopped")
	return nil
}

// runHTTPServer serves the API until the context is cancelled, then shuts
// down gracefully within the configured timeout.
func runHTTPServer(ctx context.Context, cfg *ServiceOrchestrationConfig, logger *slog.Logger) error {
	server := &http.Server{
		Addr: cfg.Config.HTTP.Addr,
		Handler: httpx.NewRouter(httpx.RouterServices{
			Schedules: cfg.Services.Schedules,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()

	select {
	case serveErr := <-errCh:
		return serveErr
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Config.HTTP.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("shutdown HTTP server: %w", shutdownErr)
	}
	logger.Info("HTTP server stopped")
	return <-errCh
}
