// Package app builds the long-lived services from configuration and owns
// their shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ilse31/anime-scrapper/internal/api"
	"github.com/ilse31/anime-scrapper/internal/config"
	"github.com/ilse31/anime-scrapper/internal/crawler"
	collyfetcher "github.com/ilse31/anime-scrapper/internal/fetcher/colly"
	"github.com/ilse31/anime-scrapper/internal/hash/sha256"
	"github.com/ilse31/anime-scrapper/internal/id/uuid"
	"github.com/ilse31/anime-scrapper/internal/parser"
	"github.com/ilse31/anime-scrapper/internal/policy/ratelimit"
	pubmemory "github.com/ilse31/anime-scrapper/internal/publisher/memory"
	"github.com/ilse31/anime-scrapper/internal/publisher/pubsub"
	queuememory "github.com/ilse31/anime-scrapper/internal/queue/memory"
	"github.com/ilse31/anime-scrapper/internal/storage/gcs"
	"github.com/ilse31/anime-scrapper/internal/storage/local"
	"github.com/ilse31/anime-scrapper/internal/storage/memory"
	"github.com/ilse31/anime-scrapper/internal/storage/postgres"
	"github.com/ilse31/anime-scrapper/internal/storage/sqlite"
	"github.com/ilse31/anime-scrapper/internal/worker"
)

// persistence is a record store that also tracks freshness.
type persistence interface {
	crawler.Store
	crawler.FreshnessCache
}

// App holds the wired services.
type App struct {
	Orchestrator *crawler.Orchestrator
	Worker       *worker.Worker
	Server       *api.Server
	Store        crawler.Store
	Cache        crawler.FreshnessCache

	queue   *queuememory.Queue
	closers []func() error
	logger  *zap.Logger
}

// New builds every service described by cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	clock := crawler.SystemClock{}
	ids := uuid.New()

	if err := a.openStore(ctx, cfg.Storage, clock); err != nil {
		return nil, err
	}
	archive, err := a.openArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	publisher, err := a.openPublisher(ctx, cfg.Publisher)
	if err != nil {
		return nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		MinDelay:       cfg.Scraper.MinDelay,
		MaxDelay:       cfg.Scraper.MaxDelay,
		RotateIdentity: cfg.Scraper.RotateIdentity,
		MaxRetries:     cfg.Scraper.MaxRetries,
		BackoffBase:    cfg.Scraper.BackoffBase,
		BackoffJitter:  cfg.Scraper.BackoffJitter,
		Timeout:        cfg.Scraper.Timeout,
		ConnectTimeout: cfg.Scraper.ConnectTimeout,
	},
		collyfetcher.WithRateLimiter(ratelimit.New(ratelimit.Config{
			RPS:   cfg.Scraper.RatePerSecond,
			Burst: cfg.Scraper.RateBurst,
		})),
		collyfetcher.WithLogger(logger.Named("fetcher")),
	)

	deps := crawler.Dependencies{
		Fetcher:   fetcher,
		Parser:    parser.New(),
		Store:     a.Store,
		Cache:     a.Cache,
		Endpoints: crawler.NewEndpoints(cfg.Scraper.BaseURL),
		Clock:     clock,
		IDs:       ids,
		Logger:    logger.Named("orchestrator"),
	}
	if archive != nil {
		deps.Archive = archive
		deps.Hasher = sha256.New()
	}
	a.Orchestrator, err = crawler.New(deps, crawler.Config{
		MaxPages:      cfg.Crawler.MaxPages,
		CacheTTL:      cfg.Crawler.CacheTTL,
		ArchivePrefix: cfg.Archive.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	a.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	a.Worker = worker.New(a.queue, a.Orchestrator, publisher, ids, clock, worker.Config{
		Topic:            cfg.Publisher.TopicID,
		ScheduleInterval: cfg.Crawler.ScheduleInterval,
	}, logger.Named("worker"))

	a.Server = api.NewServer(a.Orchestrator, a.Worker, a.Store, a.Cache, cfg, logger.Named("api"))
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.StorageConfig, clock crawler.Clock) error {
	var p persistence
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
		}, clock)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		if cfg.Postgres.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return err
			}
		}
		p = store
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLite.Path, clock)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		p = store
	default:
		a.Store = memory.NewStore()
		a.Cache = memory.NewFreshnessCache(clock)
		a.logger.Info("using in-memory storage; records are lost on exit")
		return nil
	}
	a.Store = p
	a.Cache = p
	a.logger.Info("storage ready", zap.String("driver", cfg.Driver))
	return nil
}

func (a *App) openArchive(ctx context.Context, cfg config.ArchiveConfig) (crawler.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) openPublisher(ctx context.Context, cfg config.PublisherConfig) (crawler.Publisher, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return pubmemory.New(), nil
	case config.BackendPubSub:
		pub, err := pubsub.Open(ctx, pubsub.Config{ProjectID: cfg.ProjectID, TopicID: cfg.TopicID})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, nil
	}
}

// Close stops the queue and releases backends in reverse open order.
func (a *App) Close() error {
	if a.queue != nil {
		a.queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
