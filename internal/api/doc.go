// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for health checks; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawler/run to queue a bulk run, GET /v1/crawler/runs/last
//     for the latest summary.
//   - GET /v1/anime/{slug} and /v1/episode/{slug} for cached lookups, plus
//     the stored episode and source listings.
//   - DELETE routes for records and cache keys.
package api
