package crawler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/ilse31/anime-scrapper/internal/metrics"
)

const (
	// DefaultMaxPages bounds a bulk run when the catalog never returns an
	// empty page.
	DefaultMaxPages = 1000
	// DefaultTTL is how long a refreshed detail record is served from the store.
	DefaultTTL = time.Hour

	archiveContentType = "text/html; charset=utf-8"
)

// Config tunes the Orchestrator.
type Config struct {
	MaxPages      int
	CacheTTL      time.Duration
	ArchivePrefix string
}

// Dependencies are the collaborators an Orchestrator drives. Archive and
// Hasher are optional; when Archive is nil raw pages are not kept.
type Dependencies struct {
	Fetcher   Fetcher
	Parser    Parser
	Store     Store
	Cache     FreshnessCache
	Endpoints Endpoints
	Archive   BlobStore
	Hasher    Hasher
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
}

// Orchestrator sequences fetching, parsing, and persistence for bulk runs and
// for the cached single-title path.
type Orchestrator struct {
	fetcher   Fetcher
	parser    Parser
	store     Store
	cache     FreshnessCache
	endpoints Endpoints
	archive   BlobStore
	hasher    Hasher
	clock     Clock
	ids       IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New validates deps and returns an Orchestrator.
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("orchestrator: parser is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Cache == nil:
		return nil, errors.New("orchestrator: freshness cache is required")
	case deps.Archive != nil && deps.Hasher == nil:
		return nil, errors.New("orchestrator: archive requires a hasher")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultTTL
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "pages"
	}
	if deps.Endpoints.Base() == "" {
		deps.Endpoints = NewEndpoints("")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:   deps.Fetcher,
		parser:    deps.Parser,
		store:     deps.Store,
		cache:     deps.Cache,
		endpoints: deps.Endpoints,
		archive:   deps.Archive,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		cfg:       cfg,
		logger:    deps.Logger,
	}, nil
}

// CacheTTL returns the configured freshness window.
func (o *Orchestrator) CacheTTL() time.Duration {
	return o.cfg.CacheTTL
}

// FetchOrRefresh returns the detail record for slug, served from the store
// when its cache key was refreshed within ttl and fetched live otherwise.
// A fresh key with nothing stored is treated as a miss. Live results are
// persisted and the key is marked refreshed only after the write succeeds.
//
// There is no lock around the check and the fetch: concurrent callers for
// the same stale key may each fetch.
func (o *Orchestrator) FetchOrRefresh(ctx context.Context, slug string, ttl time.Duration) (DetailRecord, error) {
	if ttl <= 0 {
		ttl = o.cfg.CacheTTL
	}
	key := DetailCacheKey(slug)
	logger := o.logger.With(zap.String("slug", slug), zap.String("cache_key", key))

	fresh, err := o.cache.IsFresh(ctx, key, ttl)
	if err != nil {
		logger.Warn("freshness check failed, treating as stale", zap.Error(err))
		fresh = false
	}
	if fresh {
		detail, err := o.store.GetDetail(ctx, slug)
		switch {
		case err == nil && !detail.Empty():
			metrics.ObserveCacheLookup("hit")
			return detail, nil
		case err == nil || errors.Is(err, ErrNotFound):
			metrics.ObserveCacheLookup("drift")
			logger.Info("cache fresh but store empty, refetching")
		default:
			metrics.ObserveCacheLookup("drift")
			logger.Warn("stored detail read failed, refetching", zap.Error(err))
		}
	} else {
		metrics.ObserveCacheLookup("miss")
	}

	res, err := o.fetcher.Fetch(ctx, o.endpoints.Detail(slug))
	if err != nil {
		logger.Warn("detail fetch failed", zap.Error(err))
		return DetailRecord{}, fmt.Errorf("%w: detail %s: %w", ErrFetchFailed, slug, err)
	}
	o.archivePage(ctx, "detail", res)

	detail := o.parser.ParseDetail(res.Body)
	if detail.Empty() {
		return DetailRecord{}, fmt.Errorf("detail %s: %w", slug, ErrNotFound)
	}
	detail.Slug = slug
	if err := o.store.UpsertDetailWithChildren(ctx, slug, detail); err != nil {
		logger.Error("persist detail failed, serving live result", zap.Error(err))
		return detail, nil
	}
	if err := o.cache.MarkRefreshed(ctx, key); err != nil {
		logger.Warn("mark refreshed failed", zap.Error(err))
	}
	return detail, nil
}

// RefreshChild fetches one episode page live and, when it lists sources,
// replaces the stored sources for that episode.
func (o *Orchestrator) RefreshChild(ctx context.Context, slug string) (ChildPage, error) {
	logger := o.logger.With(zap.String("episode", slug))
	res, err := o.fetcher.Fetch(ctx, o.endpoints.Child(slug))
	if err != nil {
		logger.Warn("episode fetch failed", zap.Error(err))
		return ChildPage{}, fmt.Errorf("%w: episode %s: %w", ErrFetchFailed, slug, err)
	}
	o.archivePage(ctx, "episode", res)

	page := o.parser.ParseChild(res.Body)
	if page.Title == "" && page.DefaultSource == "" && len(page.Leaves) == 0 {
		return ChildPage{}, fmt.Errorf("episode %s: %w", slug, ErrNotFound)
	}
	page.Slug = slug
	if len(page.Leaves) > 0 {
		if err := o.store.ReplaceChildrenOf(ctx, slug, page.Leaves); err != nil {
			logger.Error("persist sources failed, serving live result", zap.Error(err))
		}
	}
	return page, nil
}

func (o *Orchestrator) archivePage(ctx context.Context, kind string, res FetchResult) {
	if o.archive == nil || len(res.Body) == 0 {
		return
	}
	digest, err := o.hasher.Hash(res.Body)
	if err != nil {
		metrics.ObserveArchiveWrite("error")
		o.logger.Warn("hash page for archive", zap.String("url", res.URL), zap.Error(err))
		return
	}
	objectPath := path.Join(o.cfg.ArchivePrefix, kind, digest+".html")
	if _, err := o.archive.PutObject(ctx, objectPath, archiveContentType, res.Body); err != nil {
		metrics.ObserveArchiveWrite("error")
		o.logger.Warn("archive page", zap.String("url", res.URL), zap.String("path", objectPath), zap.Error(err))
		return
	}
	metrics.ObserveArchiveWrite("success")
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
