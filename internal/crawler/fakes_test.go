package crawler_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

// scriptedFetcher serves bodies by URL. URLs without a script return 404.
type scriptedFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	errs     map[string]error
	fallback func(url string) (string, bool)
	calls    []string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		pages: make(map[string]string),
		errs:  make(map[string]error),
	}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := ctx.Err(); err != nil {
		return crawler.FetchResult{}, crawler.NewNetworkError(err.Error())
	}
	if err, ok := f.errs[url]; ok {
		return crawler.FetchResult{}, err
	}
	if body, ok := f.pages[url]; ok {
		return crawler.FetchResult{URL: url, StatusCode: 200, Body: []byte(body)}, nil
	}
	if f.fallback != nil {
		if body, ok := f.fallback(url); ok {
			return crawler.FetchResult{URL: url, StatusCode: 200, Body: []byte(body)}, nil
		}
	}
	return crawler.FetchResult{}, crawler.NewStatusError(404)
}

func (f *scriptedFetcher) callsMatching(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// tableParser maps a body token to the records it parses to.
type tableParser struct {
	catalogs map[string][]crawler.CatalogRecord
	details  map[string]crawler.DetailRecord
	children map[string]crawler.ChildPage
}

func newTableParser() *tableParser {
	return &tableParser{
		catalogs: make(map[string][]crawler.CatalogRecord),
		details:  make(map[string]crawler.DetailRecord),
		children: make(map[string]crawler.ChildPage),
	}
}

func (p *tableParser) ParseCatalog(html []byte) []crawler.CatalogRecord {
	return p.catalogs[string(html)]
}

func (p *tableParser) ParseDetail(html []byte) crawler.DetailRecord {
	return p.details[string(html)]
}

func (p *tableParser) ParseChild(html []byte) crawler.ChildPage {
	return p.children[string(html)]
}

// failingStore wraps a Store and fails writes for selected slugs.
type failingStore struct {
	crawler.Store
	failDetail  map[string]bool
	failLeaves  map[string]bool
	failCatalog bool
}

func (s *failingStore) UpsertCatalogBatch(ctx context.Context, records []crawler.CatalogRecord) error {
	if s.failCatalog {
		return fmt.Errorf("catalog write refused")
	}
	return s.Store.UpsertCatalogBatch(ctx, records)
}

func (s *failingStore) UpsertDetailWithChildren(ctx context.Context, slug string, d crawler.DetailRecord) error {
	if s.failDetail[slug] {
		return fmt.Errorf("detail write refused")
	}
	return s.Store.UpsertDetailWithChildren(ctx, slug, d)
}

func (s *failingStore) ReplaceChildrenOf(ctx context.Context, slug string, leaves []crawler.LeafRecord) error {
	if s.failLeaves[slug] {
		return fmt.Errorf("leaf write refused")
	}
	return s.Store.ReplaceChildrenOf(ctx, slug, leaves)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeIDGen struct{}

func (fakeIDGen) NewID() (string, error) { return "run-1", nil }
