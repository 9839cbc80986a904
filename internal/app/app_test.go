package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ilse31/anime-scrapper/internal/config"
	"github.com/ilse31/anime-scrapper/internal/storage/memory"
	"github.com/ilse31/anime-scrapper/internal/storage/sqlite"
)

func baseConfig() config.Config {
	return config.Config{
		Server:    config.ServerConfig{Port: 8080},
		Scraper:   config.ScraperConfig{BaseURL: "https://example.test", MinDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 1, Timeout: time.Second},
		Crawler:   config.CrawlerConfig{MaxPages: 1, CacheTTL: time.Hour, QueueDepth: 1},
		Storage:   config.StorageConfig{Driver: config.DriverMemory},
		Archive:   config.ArchiveConfig{Backend: config.BackendNone, Prefix: "pages"},
		Publisher: config.PublisherConfig{Backend: config.BackendNone},
	}
}

func TestNewWithMemoryBackends(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Archive.Backend = config.BackendMemory
	cfg.Publisher.Backend = config.BackendMemory

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.IsType(t, &memory.Store{}, a.Store)
	require.NotNil(t, a.Orchestrator)
	require.NotNil(t, a.Worker)

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewWithSQLiteAndLocalArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := baseConfig()
	cfg.Storage = config.StorageConfig{Driver: config.DriverSQLite, SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "anime.db")}}
	cfg.Archive = config.ArchiveConfig{Backend: config.BackendLocal, BaseDir: filepath.Join(dir, "pages"), Prefix: "pages"}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, a.Store)
	require.Same(t, a.Store, a.Cache)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestNewFailsOnBadPostgresDSN(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Storage = config.StorageConfig{Driver: config.DriverPostgres, Postgres: config.PostgresConfig{DSN: "not a dsn ::"}}

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}
