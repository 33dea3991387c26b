// Package server assembles the harvester's dependencies and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/headless"
	hybridfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/hybrid"
	restyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/resty"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/headless/detector"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
	"github.com/JakeFAU/catalog-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-harvester/internal/source"
	"github.com/JakeFAU/catalog-harvester/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	profile        harvest.Profile
	orchestrator   *harvest.Orchestrator
	apiServer      *api.Server
	backendClose   func() error
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return NewApp(ctx, cfg, logger)
}

// NewApp wires the harvest pipeline around an existing logger.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}

	var tracerProvider trace.TracerProvider
	if cfg.Telemetry.TracingEnabled {
		exporter, err := telemetry.NewExporter(cfg.Telemetry.Exporter, os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		var tpOpts []sdktrace.TracerProviderOption
		if exporter != nil {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
		}
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, tpOpts...)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
		tracerProvider = tp
	}

	profile, err := source.Lookup(cfg.Source.Profile, source.Options{
		Origin:    cfg.Source.Origin,
		UserAgent: cfg.Source.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("source profile: %w", err)
	}
	app.profile = profile

	backend, closeBackend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.backendClose = closeBackend

	opts := []harvest.RetryOption{
		harvest.WithAttemptTimeout(cfg.AttemptTimeout()),
		harvest.WithBackendName(cfg.HTTP.Backend),
		harvest.WithLogger(logger),
	}
	if cfg.HTTP.RequestsPerSecond > 0 {
		opts = append(opts, harvest.WithLimiter(ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
		})))
	}
	fetcher := harvest.NewRetryFetcher(backend, retryPolicy(cfg), opts...)

	subItems := harvest.NewSubItemPipeline(fetcher, profile, cfg.Pools.SubItems, logger)
	items := harvest.NewItemPipeline(fetcher, profile, subItems, logger)
	app.orchestrator = harvest.NewOrchestrator(fetcher, profile, items, cfg.Pools.Items, logger)
	app.apiServer = api.NewServer(app.orchestrator, api.Options{
		MaxChapters:    cfg.Server.MaxChapters,
		TracerProvider: tracerProvider,
	}, logger)

	logger.Info("application built",
		zap.String("profile", profile.Name),
		zap.String("origin", profile.Origin),
		zap.String("backend", cfg.HTTP.Backend),
		zap.String("backoff", cfg.HTTP.Backoff),
		zap.Bool("proxied", cfg.HTTP.Proxy != ""),
		zap.String("span_exporter", cfg.Telemetry.Exporter),
		zap.Int("max_attempts", cfg.HTTP.MaxRetries),
		zap.Int("item_pool", cfg.Pools.Items),
		zap.Int("sub_item_pool", cfg.Pools.SubItems),
	)
	return app, nil
}

func newBackend(cfg config.Config, logger *zap.Logger) (harvest.Fetcher, func() error, error) {
	switch cfg.HTTP.Backend {
	case config.BackendColly:
		return newColly(cfg), nil, nil
	case config.BackendResty:
		return restyfetcher.New(restyfetcher.Config{
			UserAgent: cfg.Source.UserAgent,
			Timeout:   cfg.AttemptTimeout(),
			Proxy:     cfg.HTTP.Proxy,
		}), nil, nil
	case config.BackendHeadless:
		f, err := newHeadless(cfg)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	case config.BackendAuto:
		renderer, err := newHeadless(cfg)
		if err != nil {
			return nil, nil, err
		}
		probe := newColly(cfg)
		f := hybridfetcher.New(probe, renderer, detector.NewHeuristic(cfg.Headless.PromotionThreshold), logger)
		return f, renderer.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown fetch backend %q", cfg.HTTP.Backend)
	}
}

func newColly(cfg config.Config) *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Source.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.AttemptTimeout(),
		Proxy:         cfg.HTTP.Proxy,
	})
}

func newHeadless(cfg config.Config) (*headlessfetcher.Fetcher, error) {
	f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Source.UserAgent,
		NavigationTimeout: cfg.NavigationTimeout(),
		BlockAssets:       cfg.Headless.BlockAssets,
		Proxy:             cfg.HTTP.Proxy,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	return f, nil
}

func retryPolicy(cfg config.Config) harvest.RetryPolicy {
	if cfg.HTTP.Backoff == config.BackoffExponential {
		return harvest.NewExponentialRetryPolicy(
			cfg.HTTP.MaxRetries,
			cfg.RetryDelay(),
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		)
	}
	return harvest.NewFixedRetryPolicy(cfg.HTTP.MaxRetries, cfg.RetryDelay())
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Orchestrator exposes the catalog orchestrator for one-shot crawls.
func (a *App) Orchestrator() *harvest.Orchestrator {
	return a.orchestrator
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and blocks until SIGINT, SIGTERM or ctx
// cancellation, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is done.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("http server error", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		return err
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close releases the fetch backend and flushes observability.
func (a *App) Close(ctx context.Context) error {
	if a.backendClose != nil {
		if err := a.backendClose(); err != nil {
			a.logger.Warn("fetch backend close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

// CrawlPage runs a single catalog page crawl.
func (a *App) CrawlPage(ctx context.Context, page, numChapters int) (harvest.CatalogBatchResult, error) {
	result, err := a.orchestrator.CrawlPage(ctx, page, numChapters)
	if err != nil {
		return harvest.CatalogBatchResult{}, fmt.Errorf("crawl page: %w", err)
	}
	return result, nil
}
