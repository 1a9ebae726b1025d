// Package app initializes and holds the long-lived application services,
// acting as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/bus"
	"github.com/warmeta/wahapedia-crawler/internal/config"
	"github.com/warmeta/wahapedia-crawler/internal/fetcher"
	"github.com/warmeta/wahapedia-crawler/internal/logging"
	"github.com/warmeta/wahapedia-crawler/internal/metrics"
	"github.com/warmeta/wahapedia-crawler/internal/pipeline"
	"github.com/warmeta/wahapedia-crawler/internal/scraper"
	"github.com/warmeta/wahapedia-crawler/internal/scraper/wahapedia"
	"github.com/warmeta/wahapedia-crawler/internal/store"
)

// App holds the shared services built once at startup: logger, bus, store,
// fetcher, scraper backend, and the pipeline that ties them together.
// Construction fails fast if any critical service cannot be initialized.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	bus      *bus.Bus
	store    store.Store
	pipeline *pipeline.Pipeline

	metricsSrv *http.Server
}

// New builds the full service graph from the config file at cfgPath. An
// empty bus.nats_url leaves the bus broker-less (publishes fail soft); an
// empty db.dsn disables scrape-log persistence.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Bus.Source)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	source, err := scraper.ParseSource(cfg.Scraper.Source)
	if err != nil {
		return nil, err
	}

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var broker bus.Broker
	if cfg.Bus.NATSURL != "" {
		natsBroker, err := bus.DialNATS(cfg.Bus.NATSURL, cfg.Bus.Source)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		broker = natsBroker
	} else {
		logger.Warn("no nats url configured, publishes will be dropped")
	}

	b := bus.New(broker, bus.Config{
		Source:      cfg.Bus.Source,
		RecentLimit: cfg.Bus.RecentLimit,
		RecentTTL:   cfg.RecentTTL(),
		Logger:      logger.Named("bus"),
	})

	svc, err := buildService(cfg, source, logger)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(closeCtx)
		st.Close()
		return nil, err
	}

	pipe, err := pipeline.New(pipeline.Config{
		Service:   svc,
		Bus:       b,
		Store:     st,
		Logger:    logger.Named("pipeline"),
		Source:    cfg.Bus.Source,
		VersionID: cfg.Scraper.VersionID,
		Factions:  cfg.Scraper.Factions,
	})
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(closeCtx)
		st.Close()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		bus:      b,
		store:    st,
		pipeline: pipe,
	}
	if source == scraper.SourceWahapedia && !wahapedia.KnownVersion(cfg.Scraper.VersionID) {
		logger.Warn("unrecognized game version, extraction targets the default",
			zap.String("configured", cfg.Scraper.VersionID),
			zap.String("default", wahapedia.DefaultVersionID))
		b.PublishVersionChange(cfg.Scraper.VersionID, wahapedia.DefaultVersionID)
	}
	a.startMetricsServer()
	logger.Info("application services initialized",
		zap.String("source", string(source)),
		zap.String("version", cfg.Scraper.VersionID))
	return a, nil
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.DB.DSN == "" {
		logger.Info("no database configured, scrape log disabled")
		return store.NoOp{}, nil
	}
	pg, err := store.Connect(ctx, cfg.DB.DSN, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return pg, nil
}

func buildService(cfg config.Config, source scraper.Source, logger *zap.Logger) (scraper.Service, error) {
	switch source {
	case scraper.SourceWahapedia:
		f := fetcher.New(fetcher.Config{
			BaseURL:       cfg.Upstream.BaseURL,
			UserAgent:     cfg.Upstream.UserAgent,
			RateLimitMin:  cfg.Upstream.RateLimitMin,
			RateLimitMax:  cfg.Upstream.RateLimitMax,
			Timeout:       cfg.RequestTimeout(),
			MaxRetries:    cfg.HTTP.MaxRetries,
			BackoffFactor: cfg.BackoffFactor(),
			Logger:        logger.Named("fetcher"),
		})
		return wahapedia.New(wahapedia.Config{
			Fetcher:   f,
			Resolver:  wahapedia.NewURLResolver(cfg.Upstream.BaseURL, cfg.Scraper.VersionID),
			Source:    cfg.Bus.Source,
			VersionID: cfg.Scraper.VersionID,
			Logger:    logger.Named("wahapedia"),
		})
	default:
		return nil, fmt.Errorf("no service for source %q", source)
	}
}

func (a *App) startMetricsServer() {
	if a.cfg.Metrics.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server started", zap.String("addr", a.cfg.Metrics.ListenAddr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Bus returns the message bus client.
func (a *App) Bus() *bus.Bus { return a.bus }

// Store returns the scrape-log store.
func (a *App) Store() store.Store { return a.store }

// Pipeline returns the configured extraction pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Close shuts services down in reverse construction order and flushes the
// logger. Safe to call once after any successful New.
func (a *App) Close() {
	a.logger.Info("shutting down application services")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
	if err := a.bus.Close(ctx); err != nil {
		a.logger.Warn("bus close error", zap.Error(err))
	}
	a.store.Close()

	// Flush any buffered log entries. Best effort: stderr sinks often
	// reject Sync.
	_ = a.logger.Sync()
}
