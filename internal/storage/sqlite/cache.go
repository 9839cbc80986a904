package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IsFresh reports whether key was refreshed less than maxAge ago.
func (s *Store) IsFresh(ctx context.Context, key string, maxAge time.Duration) (bool, error) {
	last, ok, err := s.LastRefreshed(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return s.clock.Now().Sub(last) < maxAge, nil
}

// MarkRefreshed stamps key with the current time; MAX keeps it monotonic.
func (s *Store) MarkRefreshed(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_metadata (cache_key, last_fetched) VALUES (?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   last_fetched = MAX(cache_metadata.last_fetched, excluded.last_fetched)`,
		key, toUnixNano(s.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("mark %s refreshed: %w", key, err)
	}
	return nil
}

// LastRefreshed returns the stored timestamp for key.
func (s *Store) LastRefreshed(ctx context.Context, key string) (time.Time, bool, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx, `SELECT last_fetched FROM cache_metadata WHERE cache_key = ?`, key).Scan(&ns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("select last_fetched for %s: %w", key, err)
	}
	return fromUnixNano(ns), true, nil
}

// Invalidate forgets key.
func (s *Store) Invalidate(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_metadata WHERE cache_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("invalidate %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// InvalidateAll forgets every key.
func (s *Store) InvalidateAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_metadata`)
	if err != nil {
		return 0, fmt.Errorf("invalidate all: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
