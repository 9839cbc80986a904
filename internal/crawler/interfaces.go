package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a page body for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Parser turns fetched HTML into records. Parsing never fails; malformed
// input yields empty values.
type Parser interface {
	ParseCatalog(html []byte) []CatalogRecord
	ParseDetail(html []byte) DetailRecord
	ParseChild(html []byte) ChildPage
}

// Store persists scraped records keyed by natural slugs. Every write is
// idempotent for identical input.
type Store interface {
	// UpsertCatalogBatch writes all records in one transaction. An empty
	// batch is a no-op.
	UpsertCatalogBatch(ctx context.Context, records []CatalogRecord) error
	// UpsertDetailWithChildren writes the detail row and its ordered
	// children atomically.
	UpsertDetailWithChildren(ctx context.Context, slug string, detail DetailRecord) error
	// ReplaceChildrenOf removes every leaf owned by childSlug and inserts
	// leaves in a single unit.
	ReplaceChildrenOf(ctx context.Context, childSlug string, leaves []LeafRecord) error

	GetCatalog(ctx context.Context, slug string) (CatalogRecord, error)
	GetDetail(ctx context.Context, slug string) (DetailRecord, error)
	ListChildren(ctx context.Context, detailSlug string) ([]ChildItem, error)
	ListLeaves(ctx context.Context, childSlug string) ([]LeafRecord, error)

	DeleteCatalog(ctx context.Context, slug string) (bool, error)
	DeleteDetail(ctx context.Context, slug string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// FreshnessCache tracks when each cache key was last refreshed.
type FreshnessCache interface {
	IsFresh(ctx context.Context, key string, maxAge time.Duration) (bool, error)
	MarkRefreshed(ctx context.Context, key string) error
	LastRefreshed(ctx context.Context, key string) (time.Time, bool, error)
	Invalidate(ctx context.Context, key string) (bool, error)
	InvalidateAll(ctx context.Context) (int64, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for run requests.
type Queue interface {
	TryEnqueue(req RunRequest) bool
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Hasher computes digests used as archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
