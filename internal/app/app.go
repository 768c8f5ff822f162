// Package app builds the service's object graph from configuration and owns
// the lifecycle of long-lived clients.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmonitor/internal/api"
	"github.com/JakeFAU/webmonitor/internal/clock/system"
	"github.com/JakeFAU/webmonitor/internal/config"
	"github.com/JakeFAU/webmonitor/internal/diff"
	collyfetcher "github.com/JakeFAU/webmonitor/internal/fetcher/colly"
	"github.com/JakeFAU/webmonitor/internal/hash/sha256"
	"github.com/JakeFAU/webmonitor/internal/health"
	"github.com/JakeFAU/webmonitor/internal/id/uuid"
	"github.com/JakeFAU/webmonitor/internal/monitor"
	"github.com/JakeFAU/webmonitor/internal/normalize"
	"github.com/JakeFAU/webmonitor/internal/orchestrator"
	"github.com/JakeFAU/webmonitor/internal/policy/ratelimit"
	"github.com/JakeFAU/webmonitor/internal/registry"
	gcsstorage "github.com/JakeFAU/webmonitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webmonitor/internal/storage/local"
	memorystorage "github.com/JakeFAU/webmonitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/webmonitor/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/webmonitor/internal/storage/sqlite"
	"github.com/JakeFAU/webmonitor/internal/summarizer"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        monitor.Store
	gcs          *gcsstorage.BlobStore
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Reporter
	API          *api.Server
}

// Build wires every component selected by cfg. On failure, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeInfrastructure()
		}
	}()

	a.store, err = OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	summ, err := a.setupSummarizer()
	if err != nil {
		return nil, err
	}
	norm, err := normalize.New(normalize.Config{
		StripSelectors:   cfg.Normalize.StripSelectors,
		VolatilePatterns: cfg.Normalize.VolatilePatterns,
		MaxChars:         cfg.Normalize.MaxChars,
	}, sha256.New())
	if err != nil {
		return nil, fmt.Errorf("normalizer init failed: %w", err)
	}

	clock := system.New()
	ids := uuid.New()
	a.Registry = registry.New(a.store, ids, clock, cfg.Monitor.MaxLinks, logger.Named("registry"))
	a.Orchestrator = orchestrator.New(orchestrator.Dependencies{
		Store:      a.store,
		Fetcher:    a.setupFetcher(),
		Normalizer: norm,
		Differ:     diff.New(),
		Summarizer: summ,
		Archive:    archive,
		IDs:        ids,
		Clock:      clock,
	}, orchestrator.Config{
		HistoryLimit:  cfg.Monitor.HistoryLimit,
		StoreTimeout:  cfg.StoreTimeout(),
		ArchivePrefix: cfg.Archive.Prefix,
	}, logger.Named("orchestrator"))
	a.Health = health.New(a.store, summ, clock, 0, logger.Named("health"))
	a.API = api.NewServer(a.Registry, a.Orchestrator, a.Health, cfg, logger.Named("api"))
	return a, nil
}

// OpenStore opens the configured persistence backend, applying migrations.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.Store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		store, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             cfg.Store.Postgres.DSN,
			MaxConns:        cfg.Store.Postgres.MaxConns,
			MinConns:        cfg.Store.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.Store.Postgres.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		logger.Info("using postgres store")
		return store, nil
	case config.StoreSQLite:
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.Store.SQLite.Path})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("using sqlite store", zap.String("path", cfg.Store.SQLite.Path))
		return store, nil
	case config.StoreMemory:
		logger.Warn("using in-memory store, links and history are lost on restart")
		return memorystorage.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

func (a *App) setupArchive(ctx context.Context) (monitor.BlobStore, error) {
	switch a.cfg.Archive.Driver {
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("archiving raw pages to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return store, nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving raw pages locally", zap.String("path", a.cfg.Archive.LocalDir))
		return store, nil
	case config.ArchiveMemory:
		a.logger.Info("archiving raw pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("raw page archive disabled")
		return nil, nil
	}
}

func (a *App) setupSummarizer() (monitor.Summarizer, error) {
	if a.cfg.LLM.APIKey == "" {
		a.logger.Warn("no LLM API key set, change summaries are disabled")
		return summarizer.NewDisabled(), nil
	}
	client, err := summarizer.New(summarizer.Config{
		APIKey:       a.cfg.LLM.APIKey,
		BaseURL:      a.cfg.LLM.BaseURL,
		Model:        a.cfg.LLM.Model,
		MaxTokens:    a.cfg.LLM.MaxTokens,
		MaxDiffChars: a.cfg.LLM.MaxDiffChars,
		Timeout:      a.cfg.LLMTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("summarizer init failed: %w", err)
	}
	a.logger.Info("summarizer enabled", zap.String("model", a.cfg.LLM.Model), zap.String("base_url", a.cfg.LLM.BaseURL))
	return client, nil
}

func (a *App) setupFetcher() *collyfetcher.Fetcher {
	fc := a.cfg.Fetch
	var limiter collyfetcher.Waiter
	if rl := ratelimit.New(ratelimit.Config{RPS: fc.HostRPS, Burst: fc.HostBurst}); rl.Enabled() {
		limiter = rl
		a.logger.Info("per-host rate limit enabled", zap.Float64("rps", fc.HostRPS), zap.Int("burst", fc.HostBurst))
	}
	retry := collyfetcher.NewRetryPolicy(
		fc.MaxRetries,
		time.Duration(fc.BackoffInitialMs)*time.Millisecond,
		time.Duration(fc.BackoffMaxMs)*time.Millisecond,
	)
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:    fc.UserAgent,
		Timeout:      a.cfg.FetchTimeout(),
		MaxBodyBytes: fc.MaxBodyBytes,
	}, retry, limiter, a.logger.Named("fetcher"))
}

// Run serves the HTTP API until ctx is canceled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.API.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close releases the store and archive clients.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}
