// Package postgres provides the Postgres-backed record store and freshness
// cache.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// readTxOptions gives a multi-statement read one consistent snapshot.
var readTxOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// Store implements crawler.Store and crawler.FreshnessCache on Postgres.
type Store struct {
	pool  pool
	clock crawler.Clock
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, clock crawler.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, clock)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, clock crawler.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Store{pool: p, clock: clock}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func schemaStatements() []string {
	var out []string
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) withReadTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, readTxOptions)
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit read tx: %w", err)
	}
	return nil
}

const upsertCatalogSQL = `
INSERT INTO catalog_records (slug, title, url, thumbnail, status, category, secondary_status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (slug) DO UPDATE SET
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	thumbnail = EXCLUDED.thumbnail,
	status = EXCLUDED.status,
	category = EXCLUDED.category,
	secondary_status = EXCLUDED.secondary_status,
	updated_at = EXCLUDED.updated_at`

// UpsertCatalogBatch writes all records in one transaction.
func (s *Store) UpsertCatalogBatch(ctx context.Context, records []crawler.CatalogRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := s.clock.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, rec := range records {
			if _, err := tx.Exec(ctx, upsertCatalogSQL,
				rec.Slug, rec.Title, rec.URL, rec.Thumbnail,
				rec.Status, rec.Category, rec.SecondaryStatus, now,
			); err != nil {
				return fmt.Errorf("upsert catalog record %s: %w", rec.Slug, err)
			}
		}
		return nil
	})
}

const upsertDetailSQL = `
INSERT INTO detail_records (
	slug, title, alternate_titles, poster, rating, trailer_url, status, studio,
	release_date, duration, season, category, total_children, director,
	casts, genres, synopsis, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (slug) DO UPDATE SET
	title = EXCLUDED.title,
	alternate_titles = EXCLUDED.alternate_titles,
	poster = EXCLUDED.poster,
	rating = EXCLUDED.rating,
	trailer_url = EXCLUDED.trailer_url,
	status = EXCLUDED.status,
	studio = EXCLUDED.studio,
	release_date = EXCLUDED.release_date,
	duration = EXCLUDED.duration,
	season = EXCLUDED.season,
	category = EXCLUDED.category,
	total_children = EXCLUDED.total_children,
	director = EXCLUDED.director,
	casts = EXCLUDED.casts,
	genres = EXCLUDED.genres,
	synopsis = EXCLUDED.synopsis,
	updated_at = EXCLUDED.updated_at`

const upsertChildSQL = `
INSERT INTO child_items (slug, detail_slug, position, number, title, url, release_marker, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (slug) DO UPDATE SET
	detail_slug = EXCLUDED.detail_slug,
	position = EXCLUDED.position,
	number = EXCLUDED.number,
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	release_marker = EXCLUDED.release_marker,
	updated_at = EXCLUDED.updated_at`

// UpsertDetailWithChildren writes the detail row and its children atomically.
func (s *Store) UpsertDetailWithChildren(ctx context.Context, slug string, d crawler.DetailRecord) error {
	now := s.clock.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertDetailSQL,
			slug, d.Title, d.AlternateTitles, d.Poster, d.Rating, d.TrailerURL,
			d.Status, d.Studio, d.ReleaseDate, d.Duration, d.Season, d.Category,
			d.TotalChildren, d.Director, nonNil(d.Casts), nonNil(d.Genres), d.Synopsis, now,
		); err != nil {
			return fmt.Errorf("upsert detail %s: %w", slug, err)
		}
		for i, c := range d.Children {
			if _, err := tx.Exec(ctx, upsertChildSQL,
				c.Slug, slug, i, c.Number, c.Title, c.URL, c.ReleaseMarker, now,
			); err != nil {
				return fmt.Errorf("upsert child %s: %w", c.Slug, err)
			}
		}
		return nil
	})
}

const (
	deleteLeavesSQL = `DELETE FROM leaf_records WHERE child_slug = $1`
	insertLeafSQL   = `INSERT INTO leaf_records (child_slug, position, server, quality, url) VALUES ($1, $2, $3, $4, $5)`
)

// ReplaceChildrenOf deletes and reinserts the leaves of childSlug in one
// transaction.
func (s *Store) ReplaceChildrenOf(ctx context.Context, childSlug string, leaves []crawler.LeafRecord) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteLeavesSQL, childSlug); err != nil {
			return fmt.Errorf("delete leaves of %s: %w", childSlug, err)
		}
		for i, leaf := range leaves {
			if _, err := tx.Exec(ctx, insertLeafSQL, childSlug, i, leaf.Server, leaf.Quality, leaf.URL); err != nil {
				return fmt.Errorf("insert leaf of %s: %w", childSlug, err)
			}
		}
		return nil
	})
}

const selectCatalogSQL = `
SELECT slug, title, url, thumbnail, status, category, secondary_status
FROM catalog_records WHERE slug = $1`

// GetCatalog returns the catalog record for slug.
func (s *Store) GetCatalog(ctx context.Context, slug string) (crawler.CatalogRecord, error) {
	var rec crawler.CatalogRecord
	err := s.pool.QueryRow(ctx, selectCatalogSQL, slug).Scan(
		&rec.Slug, &rec.Title, &rec.URL, &rec.Thumbnail, &rec.Status, &rec.Category, &rec.SecondaryStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CatalogRecord{}, crawler.ErrNotFound
		}
		return crawler.CatalogRecord{}, fmt.Errorf("select catalog %s: %w", slug, err)
	}
	return rec, nil
}

const selectDetailSQL = `
SELECT slug, title, alternate_titles, poster, rating, trailer_url, status, studio,
	release_date, duration, season, category, total_children, director,
	casts, genres, synopsis
FROM detail_records WHERE slug = $1`

// GetDetail returns the detail record for slug with its children attached.
// Both reads share one snapshot, so a concurrent upsert is seen entirely or
// not at all.
func (s *Store) GetDetail(ctx context.Context, slug string) (crawler.DetailRecord, error) {
	var d crawler.DetailRecord
	err := s.withReadTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, selectDetailSQL, slug).Scan(
			&d.Slug, &d.Title, &d.AlternateTitles, &d.Poster, &d.Rating, &d.TrailerURL,
			&d.Status, &d.Studio, &d.ReleaseDate, &d.Duration, &d.Season, &d.Category,
			&d.TotalChildren, &d.Director, &d.Casts, &d.Genres, &d.Synopsis,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return crawler.ErrNotFound
			}
			return fmt.Errorf("select detail %s: %w", slug, err)
		}
		children, err := listChildren(ctx, tx, slug)
		if err != nil {
			return err
		}
		d.Children = children
		return nil
	})
	if err != nil {
		return crawler.DetailRecord{}, err
	}
	return d, nil
}

const selectChildrenSQL = `
SELECT slug, number, title, url, release_marker
FROM child_items WHERE detail_slug = $1
ORDER BY position, slug`

// ListChildren returns the stored children of a detail record in order.
func (s *Store) ListChildren(ctx context.Context, detailSlug string) ([]crawler.ChildItem, error) {
	return listChildren(ctx, s.pool, detailSlug)
}

func listChildren(ctx context.Context, q querier, detailSlug string) ([]crawler.ChildItem, error) {
	rows, err := q.Query(ctx, selectChildrenSQL, detailSlug)
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

const selectLeavesSQL = `
SELECT server, quality, url FROM leaf_records WHERE child_slug = $1 ORDER BY position`

// ListLeaves returns the stored leaves of a child.
func (s *Store) ListLeaves(ctx context.Context, childSlug string) ([]crawler.LeafRecord, error) {
	rows, err := s.pool.Query(ctx, selectLeavesSQL, childSlug)
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM catalog_records WHERE slug = $1`, slug)
	if err != nil {
		return false, fmt.Errorf("delete catalog %s: %w", slug, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteDetail removes a detail record; its children go with it.
func (s *Store) DeleteDetail(ctx context.Context, slug string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM detail_records WHERE slug = $1`, slug)
	if err != nil {
		return false, fmt.Errorf("delete detail %s: %w", slug, err)
	}
	return tag.RowsAffected() > 0, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
