package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	selectLastFetchedSQL = `SELECT last_fetched FROM cache_metadata WHERE cache_key = $1`
	markRefreshedSQL     = `
INSERT INTO cache_metadata (cache_key, last_fetched) VALUES ($1, $2)
ON CONFLICT (cache_key) DO UPDATE SET
	last_fetched = GREATEST(cache_metadata.last_fetched, EXCLUDED.last_fetched)`
)

// IsFresh reports whether key was refreshed less than maxAge ago.
func (s *Store) IsFresh(ctx context.Context, key string, maxAge time.Duration) (bool, error) {
	last, ok, err := s.LastRefreshed(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return s.clock.Now().Sub(last) < maxAge, nil
}

// MarkRefreshed stamps key with the current time. GREATEST keeps the stored
// timestamp from moving backwards.
func (s *Store) MarkRefreshed(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, markRefreshedSQL, key, s.clock.Now()); err != nil {
		return fmt.Errorf("mark %s refreshed: %w", key, err)
	}
	return nil
}

// LastRefreshed returns the stored timestamp for key.
func (s *Store) LastRefreshed(ctx context.Context, key string) (time.Time, bool, error) {
	var last time.Time
	if err := s.pool.QueryRow(ctx, selectLastFetchedSQL, key).Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("select last_fetched for %s: %w", key, err)
	}
	return last, true, nil
}

// Invalidate forgets key.
func (s *Store) Invalidate(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_metadata WHERE cache_key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("invalidate %s: %w", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

// InvalidateAll forgets every key.
func (s *Store) InvalidateAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_metadata`)
	if err != nil {
		return 0, fmt.Errorf("invalidate all: %w", err)
	}
	return tag.RowsAffected(), nil
}
