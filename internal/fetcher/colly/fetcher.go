// Package collyfetcher implements the scraper's HTTP client on gocolly:
// polite pacing, browser identity rotation, error classification, and
// retries with exponential backoff.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ilse31/anime-scrapper/internal/crawler"
	"github.com/ilse31/anime-scrapper/internal/metrics"
)

// Defaults applied to zero Config fields.
const (
	DefaultMinDelay       = time.Second
	DefaultMaxDelay       = 3 * time.Second
	DefaultMaxRetries     = 3
	DefaultBackoffBase    = time.Second
	DefaultBackoffJitter  = 500 * time.Millisecond
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// Config controls pacing, identity, and retry behavior.
type Config struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	RotateIdentity bool
	// MaxRetries is the total number of attempts per fetch, not the number
	// of extra attempts.
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffJitter  time.Duration
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinDelay:       DefaultMinDelay,
		MaxDelay:       DefaultMaxDelay,
		RotateIdentity: true,
		MaxRetries:     DefaultMaxRetries,
		BackoffBase:    DefaultBackoffBase,
		BackoffJitter:  DefaultBackoffJitter,
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// RateLimiter caps the outbound request rate per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTransport routes every request through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// WithSleeper replaces the timer used for pacing and backoff waits.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) { f.sleeper = s }
}

// WithRandom replaces the source used for delays, jitter, and identity choice.
func WithRandom(r RandomSource) Option {
	return func(f *Fetcher) { f.random = r }
}

// WithRateLimiter applies a per-host ceiling before every attempt.
func WithRateLimiter(l RateLimiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithIdentities replaces the built-in browser profiles.
func WithIdentities(ids []Identity) Option {
	return func(f *Fetcher) {
		if len(ids) > 0 {
			f.identities = ids
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// Fetcher implements crawler.Fetcher using the Colly collector. One Fetcher
// is shared by every caller so pacing applies across the whole process.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	identities    []Identity
	sleeper       Sleeper
	random        RandomSource
	limiter       RateLimiter
	logger        *zap.Logger

	requests atomic.Int64
	// pacingMu serializes the counter check and the pacing sleep so
	// concurrent callers queue behind each other.
	pacingMu sync.Mutex
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Zero Config fields take the package defaults.
func New(cfg Config, opts ...Option) *Fetcher {
	cfg = withDefaults(cfg)
	f := &Fetcher{
		cfg:        cfg,
		identities: DefaultIdentities(),
		sleeper:    timerSleeper{},
		random:     cryptoRandom,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = newHTTPTransport(cfg.ConnectTimeout)
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(f.transport)
	c.SetRequestTimeout(cfg.Timeout)
	f.baseCollector = c
	return f
}

func withDefaults(cfg Config) Config {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = 0
	}
	if cfg.BackoffJitter < 0 {
		cfg.BackoffJitter = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return cfg
}

// Fetch waits a random pacing delay (skipped for the first request since
// construction or the last ResetCounter), then retrieves url with retries.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	if err := f.pace(ctx); err != nil {
		return crawler.FetchResult{}, err
	}
	return f.fetchWithRetry(ctx, url)
}

// FetchNoDelay retrieves url with retries but without the pacing delay and
// without touching the request counter. It is for callers that pace
// themselves.
func (f *Fetcher) FetchNoDelay(ctx context.Context, url string) (crawler.FetchResult, error) {
	return f.fetchWithRetry(ctx, url)
}

// RequestCount returns how many paced requests were issued since the last reset.
func (f *Fetcher) RequestCount() int64 {
	return f.requests.Load()
}

// ResetCounter zeroes the request counter so the next Fetch skips pacing.
func (f *Fetcher) ResetCounter() {
	f.requests.Store(0)
}

func (f *Fetcher) pace(ctx context.Context) error {
	f.pacingMu.Lock()
	defer f.pacingMu.Unlock()
	if f.requests.Add(1) == 1 {
		return nil
	}
	delay := pacingDelay(f.cfg.MinDelay, f.cfg.MaxDelay, f.random)
	metrics.ObservePacingDelay(delay)
	if err := f.sleeper.Sleep(ctx, delay); err != nil {
		return fmt.Errorf("pacing delay: %w", err)
	}
	return nil
}

// fetchWithRetry makes up to MaxRetries attempts. Only rate limiting and
// 429/5xx statuses are retried; network errors and other statuses return at
// once. When attempts run out the last retryable error is returned.
func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) (crawler.FetchResult, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(f.cfg.BackoffBase, attempt, f.random(f.cfg.BackoffJitter))
			f.logger.Debug("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			metrics.ObserveRetry(retryKind(lastErr))
			if err := f.sleeper.Sleep(ctx, delay); err != nil {
				return crawler.FetchResult{}, fmt.Errorf("retry backoff: %w", err)
			}
		}
		result, err := f.attempt(ctx, url)
		if err == nil {
			result.Attempts = attempt + 1
			return result, nil
		}
		if !crawler.IsRetryable(err) {
			return crawler.FetchResult{}, err
		}
		lastErr = err
	}
	f.logger.Warn("fetch retries exhausted", zap.String("url", url), zap.Int("attempts", f.cfg.MaxRetries), zap.Error(lastErr))
	return crawler.FetchResult{}, lastErr
}

func retryKind(err error) string {
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return fe.Kind.String()
	}
	return "unknown"
}

func (f *Fetcher) attempt(ctx context.Context, url string) (crawler.FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return crawler.FetchResult{}, crawler.NewNetworkError(err.Error())
		}
	}
	identity := f.pickIdentity()
	start := time.Now()
	var (
		result   crawler.FetchResult
		fetchErr error
	)
	collector := f.buildCollector(identity, start, &result, &fetchErr)
	err := f.runCollector(ctx, collector, url, &fetchErr)
	outcome := "success"
	if err != nil {
		outcome = "error"
		var fe *crawler.FetchError
		if errors.As(err, &fe) {
			outcome = fe.Kind.String()
		}
	}
	metrics.ObserveFetch(url, outcome, len(result.Body), time.Since(start))
	if err != nil {
		return crawler.FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) pickIdentity() Identity {
	if !f.cfg.RotateIdentity || len(f.identities) == 1 {
		return f.identities[0]
	}
	return f.identities[int(f.random(time.Duration(len(f.identities))))]
}

func (f *Fetcher) buildCollector(
	identity Identity,
	start time.Time,
	result *crawler.FetchResult,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = identity.UserAgent
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	f.configureCollectorHooks(collector, identity, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	identity Identity,
	start time.Time,
	result *crawler.FetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		identity.Apply(*r.Headers)
	})

	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode > 299 {
			*fetchErr = crawler.NewStatusError(r.StatusCode)
			return
		}
		*result = crawler.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Identity:   identity.Name,
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = crawler.NewStatusError(r.StatusCode)
			return
		}
		*fetchErr = crawler.NewNetworkError(err.Error())
	})
}

// runCollector visits url with ctx bound to the outgoing request. Visit is
// synchronous, so the hooks have finished writing before the shared result
// and error are read.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	collector.Context = ctx
	err := collector.Visit(url)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return crawler.NewNetworkError(fmt.Sprintf("fetch canceled: %v", ctxErr))
	}
	if *fetchErr != nil {
		return *fetchErr
	}
	if err != nil {
		return crawler.NewNetworkError(err.Error())
	}
	return nil
}

func newHTTPTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
