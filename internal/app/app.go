// Package app initializes and holds the services of one feedroll run, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/aggregator"
	"github.com/JakeFAU/feedroll/internal/config"
	collyfetcher "github.com/JakeFAU/feedroll/internal/fetcher/colly"
	"github.com/JakeFAU/feedroll/internal/fetchlog"
	"github.com/JakeFAU/feedroll/internal/id/uuid"
	"github.com/JakeFAU/feedroll/internal/metrics"
	"github.com/JakeFAU/feedroll/internal/plugin"
	"github.com/JakeFAU/feedroll/internal/policy/ratelimit"
	"github.com/JakeFAU/feedroll/internal/publisher"
	pubsubpub "github.com/JakeFAU/feedroll/internal/publisher/pubsub"
	"github.com/JakeFAU/feedroll/internal/storage"
	"github.com/JakeFAU/feedroll/internal/storage/gcs"
	"github.com/JakeFAU/feedroll/internal/storage/local"
	"github.com/JakeFAU/feedroll/internal/storage/postgres"
	"github.com/JakeFAU/feedroll/internal/store"
)

// App holds the shared services of a run. It is built once at startup and
// handed to the aggregator.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	metrics    *metrics.Recorder
	fetcher    *collyfetcher.Fetcher
	output     storage.Provider
	mirror     storage.Provider
	mirrorPath string
	fetchLog   fetchlog.Store
	publisher  publisher.Publisher
	bus        *plugin.Bus

	closers []func() error
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID identifies this invocation in fetch log rows and notifications.
func (a *App) RunID() string {
	return a.runID
}

// Metrics returns the run's Prometheus recorder.
func (a *App) Metrics() *metrics.Recorder {
	return a.metrics
}

// Output returns the provider the page is written through.
func (a *App) Output() storage.Provider {
	return a.output
}

// Mirror returns the provider the page is copied to, or nil.
func (a *App) Mirror() storage.Provider {
	return a.mirror
}

// FetchLog returns the fetch log store.
func (a *App) FetchLog() fetchlog.Store {
	return a.fetchLog
}

// Publisher returns the article notification publisher.
func (a *App) Publisher() publisher.Publisher {
	return a.publisher
}

// Bus returns the subscriber bus with the built-in subscribers registered.
func (a *App) Bus() *plugin.Bus {
	return a.bus
}

// NewApp instantiates the providers selected by cfg. It fails fast when a
// configured provider cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, stdout io.Writer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		runID:   uuid.New().RunID(),
		metrics: metrics.New(),
	}
	logger.Debug("Initializing application services", zap.String("run_id", a.runID))

	limiter := ratelimit.New(ratelimit.Config{PerHostRPS: cfg.Fetch.PerHostRPS, Observer: a.metrics})
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Timeout,
		Limiter:   limiter,
	})

	if err := a.initOutput(ctx, stdout); err != nil {
		a.shutdown()
		return nil, err
	}
	if err := a.initFetchLog(ctx); err != nil {
		a.shutdown()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.shutdown()
		return nil, err
	}

	a.bus = plugin.NewBus(
		a.metrics,
		fetchlog.NewHook(a.fetchLog, uuid.New(), a.runID, logger),
		publisher.NewArticleNotifier(a.publisher, a.runID, logger),
	)
	logger.Debug("Application services initialized")
	return a, nil
}

func (a *App) initOutput(ctx context.Context, stdout io.Writer) error {
	cfg := a.cfg
	switch {
	case cfg.Publish.Provider == "none":
		a.logger.Info("Using No-Op output provider. The page will be discarded.")
		a.output = storage.NoOpProvider{}
	case cfg.OutputFile == storage.StdoutTarget:
		a.output = storage.WriterProvider{W: stdout}
	default:
		out, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return fmt.Errorf("failed to initialize output: %w", err)
		}
		a.output = out
	}

	switch cfg.Publish.Provider {
	case "", "local", "none":
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		mirror, err := gcs.New(client, gcs.Config{
			Bucket:       cfg.Publish.GCS.Bucket,
			Prefix:       cfg.Publish.GCS.Prefix,
			CacheControl: cfg.Publish.GCS.CacheControl,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize gcs publisher: %w", err)
		}
		a.mirror = mirror
		a.mirrorPath = cfg.Publish.GCS.Object
		if a.mirrorPath == "" {
			a.mirrorPath = filepath.Base(cfg.OutputFile)
		}
		a.logger.Info("Publishing to GCS", zap.String("bucket", cfg.Publish.GCS.Bucket), zap.String("object", mirror.ObjectName(a.mirrorPath)))
	default:
		return fmt.Errorf("unknown publish provider: %s", cfg.Publish.Provider)
	}
	return nil
}

func (a *App) initFetchLog(ctx context.Context) error {
	switch a.cfg.FetchLog.Provider {
	case "postgres":
		a.logger.Info("Connecting to PostgreSQL fetch log", zap.String("table", a.cfg.FetchLog.Table))
		st, err := postgres.NewFetchStore(ctx, postgres.FetchStoreConfig{
			DSN:   a.cfg.FetchLog.DSN,
			Table: a.cfg.FetchLog.Table,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize fetch log: %w", err)
		}
		a.closers = append(a.closers, func() error { st.Close(); return nil })
		a.fetchLog = st
	case "", "noop":
		a.fetchLog = fetchlog.NoopStore{}
	default:
		return fmt.Errorf("unknown fetchlog provider: %s", a.cfg.FetchLog.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Notify.Provider {
	case "pubsub":
		a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", a.cfg.Notify.TopicID))
		pub, err := pubsubpub.Dial(ctx, a.cfg.Notify.ProjectID, a.cfg.Notify.TopicID)
		if err != nil {
			return fmt.Errorf("failed to initialize notifications: %w", err)
		}
		pub.Attributes = map[string]string{"run_id": a.runID}
		a.publisher = pub
	case "", "noop":
		a.publisher = publisher.NoOp{}
	default:
		return fmt.Errorf("unknown notify provider: %s", a.cfg.Notify.Provider)
	}
	return nil
}

// AggregatorOptions returns the aggregator wiring for this run.
func (a *App) AggregatorOptions(storeOpts store.Options, stdout, stderr io.Writer) aggregator.Options {
	return aggregator.Options{
		Config:     a.cfg,
		Store:      storeOpts,
		Fetcher:    a.fetcher,
		Finder:     a.fetcher,
		Output:     a.output,
		Mirror:     a.mirror,
		MirrorPath: a.mirrorPath,
		Bus:        a.bus,
		Observer:   a.metrics,
		Logger:     a.logger,
		Stdout:     stdout,
		Stderr:     stderr,
	}
}

// Close writes the metrics textfile and shuts down every service.
func (a *App) Close() {
	if path := a.cfg.Metrics.Textfile; path != "" && a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.cfg.ResolvePath(path)); err != nil {
			a.logger.Warn("Error writing metrics textfile", zap.Error(err))
		}
	}
	a.shutdown()
}

func (a *App) shutdown() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Error closing publisher", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	// Sync fails on some terminals; there is nothing useful to do about it.
	_ = a.logger.Sync()
}
