package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

// anyArgs matches n statement arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, fixedClock{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, fixedClock{})
	require.ErrorContains(t, err, "dsn")
}

func TestMigrateAppliesEveryStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	stmts := schemaStatements()
	require.Len(t, stmts, 7)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS catalog_records").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS detail_records").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS child_items").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS child_items_detail_slug_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS leaf_records").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS leaf_records_child_slug_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cache_metadata").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateStopsOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS catalog_records").WillReturnError(errors.New("permission denied"))

	err := store.Migrate(context.Background())
	require.ErrorContains(t, err, "apply schema")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCatalogBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.NoError(t, store.UpsertCatalogBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCatalogBatchCommits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	records := []crawler.CatalogRecord{
		{Slug: "frieren", Title: "Frieren", URL: "https://example.test/anime/frieren/"},
		{Slug: "dandadan", Title: "Dandadan", URL: "https://example.test/anime/dandadan/", Status: "Ongoing"},
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO catalog_records").
		WithArgs("frieren", "Frieren", "https://example.test/anime/frieren/", "", "", "", "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO catalog_records").
		WithArgs("dandadan", "Dandadan", "https://example.test/anime/dandadan/", "", "Ongoing", "", "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertCatalogBatch(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCatalogBatchRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	records := []crawler.CatalogRecord{{Slug: "a", Title: "A"}, {Slug: "b", Title: "B"}}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO catalog_records").
		WithArgs("a", "A", "", "", "", "", "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO catalog_records").
		WithArgs("b", "B", "", "", "", "", "", testNow).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.UpsertCatalogBatch(context.Background(), records)
	require.ErrorContains(t, err, "upsert catalog record b")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDetailWithChildren(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	detail := crawler.DetailRecord{
		Title:  "Frieren",
		Studio: "Madhouse",
		Genres: []string{"Adventure", "Fantasy"},
		Children: []crawler.ChildItem{
			{Slug: "frieren-episode-2", Number: "2", URL: "https://example.test/frieren-episode-2/"},
			{Slug: "frieren-episode-1", Number: "1", URL: "https://example.test/frieren-episode-1/"},
		},
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO detail_records").
		WithArgs("frieren", "Frieren", "", "", "", "", "", "Madhouse", "", "", "", "", "", "",
			[]string{}, []string{"Adventure", "Fantasy"}, "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO child_items").
		WithArgs("frieren-episode-2", "frieren", 0, "2", "", "https://example.test/frieren-episode-2/", "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO child_items").
		WithArgs("frieren-episode-1", "frieren", 1, "1", "", "https://example.test/frieren-episode-1/", "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertDetailWithChildren(context.Background(), "frieren", detail))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDetailRollsBackWhenChildFails(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	detail := crawler.DetailRecord{Title: "Frieren", Children: []crawler.ChildItem{{Slug: "ep-1"}}}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO detail_records").WithArgs(anyArgs(18)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO child_items").WithArgs(anyArgs(8)...).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := store.UpsertDetailWithChildren(context.Background(), "frieren", detail)
	require.ErrorContains(t, err, "upsert child ep-1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceChildrenOf(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	leaves := []crawler.LeafRecord{
		{Server: "Mirror", Quality: "720p", URL: "https://cdn.test/a"},
		{Server: "Mirror", Quality: "480p", URL: "https://cdn.test/b"},
	}
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM leaf_records").WithArgs("ep-1").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO leaf_records").WithArgs("ep-1", 0, "Mirror", "720p", "https://cdn.test/a").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO leaf_records").WithArgs("ep-1", 1, "Mirror", "480p", "https://cdn.test/b").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.ReplaceChildrenOf(context.Background(), "ep-1", leaves))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceChildrenOfKeepsOldLeavesOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM leaf_records").WithArgs("ep-1").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO leaf_records").WithArgs(anyArgs(5)...).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.ReplaceChildrenOf(context.Background(), "ep-1", []crawler.LeafRecord{{URL: "https://cdn.test/a"}})
	require.ErrorContains(t, err, "insert leaf of ep-1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCatalogNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT slug, title, url").WithArgs("missing").
		WillReturnRows(mock.NewRows([]string{"slug", "title", "url", "thumbnail", "status", "category", "secondary_status"}))

	_, err := store.GetCatalog(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDetailAttachesChildren(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBeginTx(readTxOptions)
	mock.ExpectQuery("FROM detail_records").WithArgs("frieren").
		WillReturnRows(mock.NewRows([]string{
			"slug", "title", "alternate_titles", "poster", "rating", "trailer_url", "status", "studio",
			"release_date", "duration", "season", "category", "total_children", "director",
			"casts", "genres", "synopsis",
		}).AddRow(
			"frieren", "Frieren", "", "", "9.1", "", "Completed", "Madhouse",
			"", "", "", "TV", "28", "", []string{}, []string{"Adventure"}, "An elf mage.",
		))
	mock.ExpectQuery("FROM child_items").WithArgs("frieren").
		WillReturnRows(mock.NewRows([]string{"slug", "number", "title", "url", "release_marker"}).
			AddRow("frieren-episode-2", "2", "", "https://example.test/frieren-episode-2/", "").
			AddRow("frieren-episode-1", "1", "", "https://example.test/frieren-episode-1/", ""))
	mock.ExpectCommit()

	got, err := store.GetDetail(context.Background(), "frieren")
	require.NoError(t, err)
	require.Equal(t, "Frieren", got.Title)
	require.Equal(t, []string{"Adventure"}, got.Genres)
	require.Len(t, got.Children, 2)
	require.Equal(t, "frieren-episode-2", got.Children[0].Slug)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDetailMissingRollsBackReadTx(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBeginTx(readTxOptions)
	mock.ExpectQuery("FROM detail_records").WithArgs("missing").
		WillReturnRows(mock.NewRows([]string{
			"slug", "title", "alternate_titles", "poster", "rating", "trailer_url", "status", "studio",
			"release_date", "duration", "season", "category", "total_children", "director",
			"casts", "genres", "synopsis",
		}))
	mock.ExpectRollback()

	_, err := store.GetDetail(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDetailChildrenFailureRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBeginTx(readTxOptions)
	mock.ExpectQuery("FROM detail_records").WithArgs("frieren").
		WillReturnRows(mock.NewRows([]string{
			"slug", "title", "alternate_titles", "poster", "rating", "trailer_url", "status", "studio",
			"release_date", "duration", "season", "category", "total_children", "director",
			"casts", "genres", "synopsis",
		}).AddRow(
			"frieren", "Frieren", "", "", "", "", "", "", "", "", "", "", "", "", []string{}, []string{}, "",
		))
	mock.ExpectQuery("FROM child_items").WithArgs("frieren").WillReturnError(errors.New("conn busy"))
	mock.ExpectRollback()

	_, err := store.GetDetail(context.Background(), "frieren")
	require.ErrorContains(t, err, "select children of frieren")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListLeavesEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM leaf_records").WithArgs("ep-9").
		WillReturnRows(mock.NewRows([]string{"server", "quality", "url"}))

	leaves, err := store.ListLeaves(context.Background(), "ep-9")
	require.NoError(t, err)
	require.Empty(t, leaves)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDetailReportsExistence(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM detail_records").WithArgs("frieren").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM catalog_records").WithArgs("frieren").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	removed, err := store.DeleteDetail(context.Background(), "frieren")
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = store.DeleteCatalog(context.Background(), "frieren")
	require.NoError(t, err)
	require.False(t, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
