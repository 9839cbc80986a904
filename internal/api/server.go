package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ilse31/anime-scrapper/internal/config"
	"github.com/ilse31/anime-scrapper/internal/crawler"
	"github.com/ilse31/anime-scrapper/internal/metrics"
)

// Scraper serves single-title lookups.
type Scraper interface {
	FetchOrRefresh(ctx context.Context, slug string, ttl time.Duration) (crawler.DetailRecord, error)
	RefreshChild(ctx context.Context, slug string) (crawler.ChildPage, error)
	CacheTTL() time.Duration
}

// Runs submits and reports bulk runs.
type Runs interface {
	Submit(trigger string) (string, error)
	LastSummary() (crawler.RunSummary, bool)
	Active() (string, bool)
}

// Server wires HTTP handlers to the orchestrator, worker, and stores.
type Server struct {
	router  chi.Router
	scraper Scraper
	runs    Runs
	store   crawler.Store
	cache   crawler.FreshnessCache
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	scraper Scraper,
	runs Runs,
	store crawler.Store,
	cache crawler.FreshnessCache,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper: scraper,
		runs:    runs,
		store:   store,
		cache:   cache,
		logger:  logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/crawler", func(r chi.Router) {
			r.Post("/run", s.submitRun)
			r.Get("/runs/last", s.lastRun)
		})
		r.Route("/anime/{slug}", func(r chi.Router) {
			r.Get("/", s.getAnime)
			r.Delete("/", s.deleteAnime)
			r.Get("/episodes", s.listEpisodes)
		})
		r.Route("/episode/{slug}", func(r chi.Router) {
			r.Get("/", s.getEpisode)
			r.Get("/sources", s.listSources)
		})
		r.Delete("/cache", s.invalidateAll)
		r.Delete("/cache/{key}", s.invalidate)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitRun(w http.ResponseWriter, _ *http.Request) {
	runID, err := s.runs.Submit("api")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

type lastRunResponse struct {
	ActiveRunID string              `json:"active_run_id,omitempty"`
	Summary     *crawler.RunSummary `json:"summary,omitempty"`
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	var resp lastRunResponse
	if id, ok := s.runs.Active(); ok {
		resp.ActiveRunID = id
	}
	if summary, ok := s.runs.LastSummary(); ok {
		resp.Summary = &summary
	}
	if resp.Summary == nil && resp.ActiveRunID == "" {
		writeError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getAnime(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	detail, err := s.scraper.FetchOrRefresh(r.Context(), slug, s.scraper.CacheTTL())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteAnime(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	removed, err := s.store.DeleteDetail(r.Context(), slug)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "anime not found")
		return
	}
	if _, err := s.store.DeleteCatalog(r.Context(), slug); err != nil {
		s.logger.Warn("delete catalog record", zap.String("slug", slug), zap.Error(err))
	}
	if _, err := s.cache.Invalidate(r.Context(), crawler.DetailCacheKey(slug)); err != nil {
		s.logger.Warn("invalidate cache key", zap.String("slug", slug), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEpisodes(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetDetail(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slug": detail.Slug, "episodes": detail.Children})
}

func (s *Server) getEpisode(w http.ResponseWriter, r *http.Request) {
	page, err := s.scraper.RefreshChild(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	leaves, err := s.store.ListLeaves(r.Context(), slug)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slug": slug, "sources": leaves})
}

func (s *Server) invalidate(w http.ResponseWriter, r *http.Request) {
	removed, err := s.cache.Invalidate(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": removed})
}

func (s *Server) invalidateAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.cache.InvalidateAll(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"invalidated": n})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, crawler.ErrFetchFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, crawler.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
