package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

const testURL = "https://example.test/anime/?page=1&status=&type=&order="

type scriptedStep func(*http.Request) (*http.Response, error)

// scriptedTransport replays steps in order and repeats the last one.
type scriptedTransport struct {
	mu      sync.Mutex
	steps   []scriptedStep
	calls   int
	headers []http.Header
}

func newScriptedTransport(steps ...scriptedStep) *scriptedTransport {
	return &scriptedTransport{steps: steps}
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++
	s.headers = append(s.headers, req.Header.Clone())
	step := s.steps[idx]
	s.mu.Unlock()
	return step(req)
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func status(code int, body string) scriptedStep {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: code,
			Status:     http.StatusText(code),
			Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	}
}

func refused() scriptedStep {
	return func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp 127.0.0.1:80: connect: connection refused")
	}
}

// recordingSleeper returns immediately and remembers every requested wait.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return s.err
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func zeroRandom(time.Duration) time.Duration { return 0 }

func newTestFetcher(rt http.RoundTripper, sleeper Sleeper, maxRetries int) *Fetcher {
	cfg := DefaultConfig()
	cfg.MaxRetries = maxRetries
	return New(cfg, WithTransport(rt), WithSleeper(sleeper), WithRandom(zeroRandom))
}

func TestFetchRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(503, ""), status(503, ""), status(200, "<html>ok</html>"))
	sleeper := &recordingSleeper{}
	f := newTestFetcher(rt, sleeper, 3)

	res, err := f.Fetch(context.Background(), testURL)
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(res.Body))
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, rt.Calls())
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.Waits())
}

func TestFetchReturnsLastRetryableErrorWhenExhausted(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(500, "boom"))
	f := newTestFetcher(rt, &recordingSleeper{}, 2)

	_, err := f.Fetch(context.Background(), testURL)
	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.FetchErrorHTTPStatus, fe.Kind)
	require.Equal(t, 500, fe.StatusCode)
	require.Equal(t, 2, rt.Calls())
}

func TestFetchDoesNotRetryNetworkErrors(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(refused(), status(200, "never"))
	f := newTestFetcher(rt, &recordingSleeper{}, 3)

	_, err := f.Fetch(context.Background(), testURL)
	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.FetchErrorNetwork, fe.Kind)
	require.Contains(t, fe.Reason, "connection refused")
	require.Equal(t, 1, rt.Calls())
}

// blockingTransport holds each request until its context ends.
type blockingTransport struct {
	canceled chan struct{}
}

func (b *blockingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case <-req.Context().Done():
		close(b.canceled)
		return nil, req.Context().Err()
	case <-time.After(5 * time.Second):
		return nil, errors.New("request context was never canceled")
	}
}

func TestFetchCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	rt := &blockingTransport{canceled: make(chan struct{})}
	f := newTestFetcher(rt, &recordingSleeper{}, 3)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	res, err := f.FetchNoDelay(ctx, testURL)
	require.Less(t, time.Since(start), 2*time.Second)

	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.FetchErrorNetwork, fe.Kind)
	require.Contains(t, fe.Reason, "canceled")
	require.Empty(t, res.Body)
	select {
	case <-rt.canceled:
	default:
		t.Fatal("transport returned before observing cancellation")
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(404, "missing"), status(200, "never"))
	f := newTestFetcher(rt, &recordingSleeper{}, 3)

	_, err := f.Fetch(context.Background(), testURL)
	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.FetchErrorHTTPStatus, fe.Kind)
	require.Equal(t, 404, fe.StatusCode)
	require.Equal(t, 1, rt.Calls())
}

func TestFetchRetriesRateLimited(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(429, ""), status(200, "ok"))
	f := newTestFetcher(rt, &recordingSleeper{}, 3)
	_, err := f.Fetch(context.Background(), testURL)
	require.NoError(t, err)
	require.Equal(t, 2, rt.Calls())

	always := newScriptedTransport(status(429, ""))
	f = newTestFetcher(always, &recordingSleeper{}, 3)
	_, err = f.Fetch(context.Background(), testURL)
	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.FetchErrorRateLimited, fe.Kind)
	require.Equal(t, 3, always.Calls())
}

func TestFetchTreatsNon200SuccessAsSuccess(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(203, "partial"))
	f := newTestFetcher(rt, &recordingSleeper{}, 3)
	res, err := f.Fetch(context.Background(), testURL)
	require.NoError(t, err)
	require.Equal(t, "partial", string(res.Body))
}

func TestFetchPacesAllButFirstRequest(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(200, "ok"))
	sleeper := &recordingSleeper{}
	cfg := DefaultConfig()
	f := New(cfg, WithTransport(rt), WithSleeper(sleeper), WithRandom(func(limit time.Duration) time.Duration {
		return limit - 1
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(ctx, testURL)
		require.NoError(t, err)
	}
	require.EqualValues(t, 3, f.RequestCount())
	require.Equal(t, []time.Duration{cfg.MaxDelay, cfg.MaxDelay}, sleeper.Waits())

	f.ResetCounter()
	require.Zero(t, f.RequestCount())
	_, err := f.Fetch(ctx, testURL)
	require.NoError(t, err)
	require.Len(t, sleeper.Waits(), 2)

	_, err = f.FetchNoDelay(ctx, testURL)
	require.NoError(t, err)
	require.Len(t, sleeper.Waits(), 2)
	require.EqualValues(t, 1, f.RequestCount())
}

func TestFetchStopsWhenBackoffInterrupted(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(503, ""))
	sleeper := &recordingSleeper{err: context.Canceled}
	f := newTestFetcher(rt, sleeper, 3)

	_, err := f.Fetch(context.Background(), testURL)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, rt.Calls())
}

func TestFetchAppliesRateLimiter(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	rt := newScriptedTransport(status(503, ""), status(200, "ok"))
	cfg := DefaultConfig()
	f := New(cfg, WithTransport(rt), WithSleeper(&recordingSleeper{}), WithRandom(zeroRandom), WithRateLimiter(limiter))

	_, err := f.Fetch(context.Background(), testURL)
	require.NoError(t, err)
	require.Equal(t, 2, limiter.calls)

	limiter.err = errors.New("rate limit wait: context canceled")
	_, err = f.FetchNoDelay(context.Background(), testURL)
	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.FetchErrorNetwork, fe.Kind)
}

type countingLimiter struct {
	calls int
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls++
	return l.err
}

func TestFetchSendsIdentityHeaders(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(200, "ok"))
	cfg := DefaultConfig()
	cfg.RotateIdentity = false
	f := New(cfg, WithTransport(rt), WithSleeper(&recordingSleeper{}))

	res, err := f.Fetch(context.Background(), testURL)
	require.NoError(t, err)
	require.Equal(t, "chrome-120-windows", res.Identity)

	h := rt.headers[0]
	require.Contains(t, h.Get("User-Agent"), "Chrome/120")
	require.Equal(t, `"Windows"`, h.Get("Sec-Ch-Ua-Platform"))
	require.Equal(t, "?0", h.Get("Sec-Ch-Ua-Mobile"))
	require.Equal(t, "en-US,en;q=0.9,id;q=0.8", h.Get("Accept-Language"))
	require.Equal(t, "navigate", h.Get("Sec-Fetch-Mode"))
	require.Equal(t, "1", h.Get("Upgrade-Insecure-Requests"))
}

func TestFetchRotatesIdentity(t *testing.T) {
	t.Parallel()

	rt := newScriptedTransport(status(200, "ok"))
	firefox := DefaultIdentities()[3]
	f := New(DefaultConfig(),
		WithTransport(rt),
		WithSleeper(&recordingSleeper{}),
		WithIdentities([]Identity{DefaultIdentities()[0], firefox}),
		WithRandom(func(limit time.Duration) time.Duration { return limit - 1 }),
	)

	res, err := f.Fetch(context.Background(), testURL)
	require.NoError(t, err)
	require.Equal(t, firefox.Name, res.Identity)
	require.Contains(t, rt.headers[0].Get("User-Agent"), "Firefox/121")
	require.Empty(t, rt.headers[0].Get("Sec-Ch-Ua"))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result crawler.FetchResult
	var fetchErr error
	identity := DefaultIdentities()[6]

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, identity, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Contains(t, collyReq.Headers.Get("Sec-Ch-Ua"), "Microsoft Edge")

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.test")},
	})
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, identity.Name, result.Identity)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusBadGateway, Headers: &http.Header{}})
	require.True(t, crawler.IsRetryable(fetchErr))

	hooks.onError(&colly.Response{}, errors.New("boom"))
	var fe *crawler.FetchError
	require.True(t, errors.As(fetchErr, &fe))
	require.Equal(t, crawler.FetchErrorNetwork, fe.Kind)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
