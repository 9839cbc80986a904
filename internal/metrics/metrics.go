// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperFetchTotal            *prometheus.CounterVec
	scraperFetchDurationSeconds  *prometheus.HistogramVec
	scraperFetchRetriesTotal     *prometheus.CounterVec
	scraperBytesTotal            *prometheus.CounterVec
	scraperPacingDelaySeconds    prometheus.Histogram
	scraperRateLimitDelaySeconds *prometheus.HistogramVec
	scraperCatalogPagesTotal     *prometheus.CounterVec
	scraperRunErrorsTotal        *prometheus.CounterVec
	scraperRunsTotal             *prometheus.CounterVec
	scraperRunRecordsTotal       *prometheus.CounterVec
	scraperRunInProgress         prometheus.Gauge
	scraperCacheLookupsTotal     *prometheus.CounterVec
	scraperArchiveWritesTotal    *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_attempts_total",
				Help: "Total number of upstream fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scraperFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of upstream fetch attempt latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		scraperFetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total number of fetch retries, labeled by the error kind that triggered them.",
			},
			[]string{"kind"},
		)

		scraperBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperPacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_pacing_delay_seconds",
				Help:    "Histogram of randomized delays inserted between requests.",
				Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 5},
			},
		)

		scraperRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		scraperCatalogPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_catalog_pages_total",
				Help: "Total number of catalog pages visited during bulk runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scraperRunErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_run_errors_total",
				Help: "Total number of skipped units of work during bulk runs, labeled by stage.",
			},
			[]string{"stage"},
		)

		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total number of completed bulk runs, labeled by termination reason.",
			},
			[]string{"termination"},
		)

		scraperRunRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_run_records_total",
				Help: "Total number of records persisted by bulk runs, labeled by kind.",
			},
			[]string{"kind"},
		)

		scraperRunInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_run_in_progress",
				Help: "Set to 1 while a bulk run is executing.",
			},
		)

		scraperCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_cache_lookups_total",
				Help: "Total number of freshness cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		scraperArchiveWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_archive_writes_total",
				Help: "Total number of raw page archive writes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one upstream fetch attempt.
func ObserveFetch(rawURL, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	scraperFetchTotal.WithLabelValues(site, outcome).Inc()
	scraperFetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
	if bytesFetched > 0 {
		scraperBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRetry records a retry triggered by an error of the given kind.
func ObserveRetry(kind string) {
	Init()
	scraperFetchRetriesTotal.WithLabelValues(kind).Inc()
}

// ObservePacingDelay records the inter-request delay chosen by the fetch client.
func ObservePacingDelay(delay time.Duration) {
	Init()
	scraperPacingDelaySeconds.Observe(delay.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	scraperRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCatalogPage records a catalog page outcome: fetched, failed, or empty.
func ObserveCatalogPage(outcome string) {
	Init()
	scraperCatalogPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRunError records a skipped unit of work.
func ObserveRunError(stage string) {
	Init()
	scraperRunErrorsTotal.WithLabelValues(stage).Inc()
}

// ObserveRun records a finished bulk run and the records it persisted.
func ObserveRun(termination string, items, children, leaves int) {
	Init()
	scraperRunsTotal.WithLabelValues(termination).Inc()
	scraperRunRecordsTotal.WithLabelValues("detail").Add(float64(items))
	scraperRunRecordsTotal.WithLabelValues("child").Add(float64(children))
	scraperRunRecordsTotal.WithLabelValues("leaf").Add(float64(leaves))
}

// SetRunInProgress flips the in-progress gauge.
func SetRunInProgress(active bool) {
	Init()
	if active {
		scraperRunInProgress.Set(1)
		return
	}
	scraperRunInProgress.Set(0)
}

// ObserveCacheLookup records a freshness cache result: hit, miss, or drift.
func ObserveCacheLookup(result string) {
	Init()
	scraperCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveArchiveWrite records a raw page archive write outcome.
func ObserveArchiveWrite(outcome string) {
	Init()
	scraperArchiveWritesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
