// Package memory provides in-process storage backends for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

// Store keeps scraped records in maps guarded by a single lock, which makes
// every multi-row write atomic.
type Store struct {
	mu       sync.RWMutex
	catalog  map[string]crawler.CatalogRecord
	details  map[string]crawler.DetailRecord
	children map[string]map[string]childEntry
	parentOf map[string]string
	leaves   map[string][]crawler.LeafRecord
	closed   bool
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		catalog:  make(map[string]crawler.CatalogRecord),
		details:  make(map[string]crawler.DetailRecord),
		children: make(map[string]map[string]childEntry),
		parentOf: make(map[string]string),
		leaves:   make(map[string][]crawler.LeafRecord),
	}
}

// UpsertCatalogBatch stores each record under its slug, replacing prior values.
func (s *Store) UpsertCatalogBatch(_ context.Context, records []crawler.CatalogRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.catalog[rec.Slug] = rec
	}
	return nil
}

// UpsertDetailWithChildren stores the detail and upserts its children by
// slug. Children are ordered by their position in the latest listing, and a
// child listed under a new detail moves there.
func (s *Store) UpsertDetailWithChildren(_ context.Context, slug string, detail crawler.DetailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneDetail(detail)
	stored.Slug = slug
	stored.Children = nil
	s.details[slug] = stored

	entries, ok := s.children[slug]
	if !ok {
		entries = make(map[string]childEntry, len(detail.Children))
		s.children[slug] = entries
	}
	for i, c := range detail.Children {
		if prev, ok := s.parentOf[c.Slug]; ok && prev != slug {
			delete(s.children[prev], c.Slug)
		}
		s.parentOf[c.Slug] = slug
		entries[c.Slug] = childEntry{item: c, position: i}
	}
	return nil
}

// ReplaceChildrenOf swaps the leaves stored for childSlug.
func (s *Store) ReplaceChildrenOf(_ context.Context, childSlug string, leaves []crawler.LeafRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(leaves) == 0 {
		delete(s.leaves, childSlug)
		return nil
	}
	s.leaves[childSlug] = append([]crawler.LeafRecord(nil), leaves...)
	return nil
}

// GetCatalog returns the catalog record for slug.
func (s *Store) GetCatalog(_ context.Context, slug string) (crawler.CatalogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.catalog[slug]
	if !ok {
		return crawler.CatalogRecord{}, crawler.ErrNotFound
	}
	return rec, nil
}

// GetDetail returns the detail record for slug with its children attached.
func (s *Store) GetDetail(_ context.Context, slug string) (crawler.DetailRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	detail, ok := s.details[slug]
	if !ok {
		return crawler.DetailRecord{}, crawler.ErrNotFound
	}
	out := cloneDetail(detail)
	out.Children = s.orderedChildren(slug)
	return out, nil
}

// ListChildren returns the stored children of a detail record in order.
func (s *Store) ListChildren(_ context.Context, detailSlug string) ([]crawler.ChildItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedChildren(detailSlug), nil
}

// ListLeaves returns the stored leaves of a child.
func (s *Store) ListLeaves(_ context.Context, childSlug string) ([]crawler.LeafRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.LeafRecord{}, s.leaves[childSlug]...), nil
}

// DeleteCatalog removes a catalog record.
func (s *Store) DeleteCatalog(_ context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.catalog[slug]
	delete(s.catalog, slug)
	return ok, nil
}

// DeleteDetail removes a detail record together with its children.
func (s *Store) DeleteDetail(_ context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.details[slug]
	delete(s.details, slug)
	for childSlug := range s.children[slug] {
		delete(s.parentOf, childSlug)
	}
	delete(s.children, slug)
	return ok, nil
}

// Ping fails once the store has been closed.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("memory store closed")
	}
	return nil
}

// Close marks the store closed. Data stays readable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type childEntry struct {
	item     crawler.ChildItem
	position int
}

func (s *Store) orderedChildren(detailSlug string) []crawler.ChildItem {
	entries := s.children[detailSlug]
	ordered := make([]childEntry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].position != ordered[j].position {
			return ordered[i].position < ordered[j].position
		}
		return ordered[i].item.Slug < ordered[j].item.Slug
	})
	out := make([]crawler.ChildItem, len(ordered))
	for i, e := range ordered {
		out[i] = e.item
	}
	return out
}

func cloneDetail(d crawler.DetailRecord) crawler.DetailRecord {
	out := d
	out.Casts = append([]string{}, d.Casts...)
	out.Genres = append([]string{}, d.Genres...)
	out.Children = append([]crawler.ChildItem{}, d.Children...)
	return out
}
