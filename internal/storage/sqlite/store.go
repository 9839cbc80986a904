// Package sqlite provides a single-file SQLite record store and freshness
// cache for local runs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

//go:embed schema.sql
var schemaSQL string

// Store persists records in SQLite.
type Store struct {
	db    *sql.DB
	clock crawler.Clock
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Timestamps are stored as UNIX nanoseconds so a freshly marked key is
// never seen as older than it is.
func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, clock crawler.Clock) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serialises writers; one connection keeps transactions simple.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{db: db, clock: clock}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.inTx(ctx, nil, fn)
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpsertCatalogBatch writes all records in one transaction.
func (s *Store) UpsertCatalogBatch(ctx context.Context, records []crawler.CatalogRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := toUnixNano(s.clock.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO catalog_records (slug, title, url, thumbnail, status, category, secondary_status, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (slug) DO UPDATE SET
				   title = excluded.title,
				   url = excluded.url,
				   thumbnail = excluded.thumbnail,
				   status = excluded.status,
				   category = excluded.category,
				   secondary_status = excluded.secondary_status,
				   updated_at = excluded.updated_at`,
				rec.Slug, rec.Title, rec.URL, rec.Thumbnail, rec.Status, rec.Category, rec.SecondaryStatus, now,
			)
			if err != nil {
				return fmt.Errorf("upsert catalog record %s: %w", rec.Slug, err)
			}
		}
		return nil
	})
}

// UpsertDetailWithChildren writes the detail row and its children atomically.
func (s *Store) UpsertDetailWithChildren(ctx context.Context, slug string, d crawler.DetailRecord) error {
	casts, err := encodeList(d.Casts)
	if err != nil {
		return err
	}
	genres, err := encodeList(d.Genres)
	if err != nil {
		return err
	}
	now := toUnixNano(s.clock.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO detail_records (
			   slug, title, alternate_titles, poster, rating, trailer_url, status, studio,
			   release_date, duration, season, category, total_children, director,
			   casts, genres, synopsis, updated_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (slug) DO UPDATE SET
			   title = excluded.title,
			   alternate_titles = excluded.alternate_titles,
			   poster = excluded.poster,
			   rating = excluded.rating,
			   trailer_url = excluded.trailer_url,
			   status = excluded.status,
			   studio = excluded.studio,
			   release_date = excluded.release_date,
			   duration = excluded.duration,
			   season = excluded.season,
			   category = excluded.category,
			   total_children = excluded.total_children,
			   director = excluded.director,
			   casts = excluded.casts,
			   genres = excluded.genres,
			   synopsis = excluded.synopsis,
			   updated_at = excluded.updated_at`,
			slug, d.Title, d.AlternateTitles, d.Poster, d.Rating, d.TrailerURL,
			d.Status, d.Studio, d.ReleaseDate, d.Duration, d.Season, d.Category,
			d.TotalChildren, d.Director, casts, genres, d.Synopsis, now,
		)
		if err != nil {
			return fmt.Errorf("upsert detail %s: %w", slug, err)
		}
		for i, c := range d.Children {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO child_items (slug, detail_slug, position, number, title, url, release_marker, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (slug) DO UPDATE SET
				   detail_slug = excluded.detail_slug,
				   position = excluded.position,
				   number = excluded.number,
				   title = excluded.title,
				   url = excluded.url,
				   release_marker = excluded.release_marker,
				   updated_at = excluded.updated_at`,
				c.Slug, slug, i, c.Number, c.Title, c.URL, c.ReleaseMarker, now,
			)
			if err != nil {
				return fmt.Errorf("upsert child %s: %w", c.Slug, err)
			}
		}
		return nil
	})
}

// ReplaceChildrenOf deletes and reinserts the leaves of childSlug.
func (s *Store) ReplaceChildrenOf(ctx context.Context, childSlug string, leaves []crawler.LeafRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM leaf_records WHERE child_slug = ?`, childSlug); err != nil {
			return fmt.Errorf("delete leaves of %s: %w", childSlug, err)
		}
		for i, leaf := range leaves {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO leaf_records (child_slug, position, server, quality, url) VALUES (?, ?, ?, ?, ?)`,
				childSlug, i, leaf.Server, leaf.Quality, leaf.URL,
			)
			if err != nil {
				return fmt.Errorf("insert leaf of %s: %w", childSlug, err)
			}
		}
		return nil
	})
}

// GetCatalog returns the catalog record for slug.
func (s *Store) GetCatalog(ctx context.Context, slug string) (crawler.CatalogRecord, error) {
	var rec crawler.CatalogRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT slug, title, url, thumbnail, status, category, secondary_status
		 FROM catalog_records WHERE slug = ?`, slug,
	).Scan(&rec.Slug, &rec.Title, &rec.URL, &rec.Thumbnail, &rec.Status, &rec.Category, &rec.SecondaryStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.CatalogRecord{}, crawler.ErrNotFound
		}
		return crawler.CatalogRecord{}, fmt.Errorf("select catalog %s: %w", slug, err)
	}
	return rec, nil
}

// GetDetail returns the detail record for slug with its children attached.
// Both reads run in one read transaction so they see the same snapshot.
func (s *Store) GetDetail(ctx context.Context, slug string) (crawler.DetailRecord, error) {
	var d crawler.DetailRecord
	err := s.inTx(ctx, &sql.TxOptions{ReadOnly: true}, func(tx *sql.Tx) error {
		var casts, genres string
		err := tx.QueryRowContext(ctx,
			`SELECT slug, title, alternate_titles, poster, rating, trailer_url, status, studio,
			        release_date, duration, season, category, total_children, director,
			        casts, genres, synopsis
			 FROM detail_records WHERE slug = ?`, slug,
		).Scan(
			&d.Slug, &d.Title, &d.AlternateTitles, &d.Poster, &d.Rating, &d.TrailerURL,
			&d.Status, &d.Studio, &d.ReleaseDate, &d.Duration, &d.Season, &d.Category,
			&d.TotalChildren, &d.Director, &casts, &genres, &d.Synopsis,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return crawler.ErrNotFound
			}
			return fmt.Errorf("select detail %s: %w", slug, err)
		}
		if d.Casts, err = decodeList(casts); err != nil {
			return err
		}
		if d.Genres, err = decodeList(genres); err != nil {
			return err
		}
		d.Children, err = listChildren(ctx, tx, slug)
		return err
	})
	if err != nil {
		return crawler.DetailRecord{}, err
	}
	return d, nil
}

// ListChildren returns the stored children of a detail record in order.
func (s *Store) ListChildren(ctx context.Context, detailSlug string) ([]crawler.ChildItem, error) {
	return listChildren(ctx, s.db, detailSlug)
}

func listChildren(ctx context.Context, q queryer, detailSlug string) ([]crawler.ChildItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT slug, number, title, url, release_marker
		 FROM child_items WHERE detail_slug = ?
		 ORDER BY position, slug`, detailSlug,
	)
	if err != nil {
		return nil, fmt.Errorf("select children of %s: %w", detailSlug, err)
	}
	defer rows.Close()
	children := []crawler.ChildItem{}
	for rows.Next() {
		var c crawler.ChildItem
		if err := rows.Scan(&c.Slug, &c.Number, &c.Title, &c.URL, &c.ReleaseMarker); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children of %s: %w", detailSlug, err)
	}
	return children, nil
}

// ListLeaves returns the stored leaves of a child.
func (s *Store) ListLeaves(ctx context.Context, childSlug string) ([]crawler.LeafRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT server, quality, url FROM leaf_records WHERE child_slug = ? ORDER BY position`, childSlug,
	)
	if err != nil {
		return nil, fmt.Errorf("select leaves of %s: %w", childSlug, err)
	}
	defer rows.Close()
	leaves := []crawler.LeafRecord{}
	for rows.Next() {
		var l crawler.LeafRecord
		if err := rows.Scan(&l.Server, &l.Quality, &l.URL); err != nil {
			return nil, fmt.Errorf("scan leaf: %w", err)
		}
		leaves = append(leaves, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaves of %s: %w", childSlug, err)
	}
	return leaves, nil
}

// DeleteCatalog removes a catalog record.
func (s *Store) DeleteCatalog(ctx context.Context, slug string) (bool, error) {
	return s.deleteBySlug(ctx, `DELETE FROM catalog_records WHERE slug = ?`, slug)
}

// DeleteDetail removes a detail record; its children go with it.
func (s *Store) DeleteDetail(ctx context.Context, slug string) (bool, error) {
	return s.deleteBySlug(ctx, `DELETE FROM detail_records WHERE slug = ?`, slug)
}

func (s *Store) deleteBySlug(ctx context.Context, query, slug string) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, slug)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}

func decodeList(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}
