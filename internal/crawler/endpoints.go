package crawler

import (
	"fmt"
	"strings"
)

// DefaultBaseURL is the site scraped when no base URL is configured.
const DefaultBaseURL = "https://x3.sokuja.uk"

// Endpoints builds the upstream URLs for each page kind.
type Endpoints struct {
	base string
}

// NewEndpoints returns Endpoints rooted at baseURL.
func NewEndpoints(baseURL string) Endpoints {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Endpoints{base: strings.TrimRight(baseURL, "/")}
}

// Base returns the normalized base URL.
func (e Endpoints) Base() string {
	return e.base
}

// CatalogPage returns the listing URL for the 1-based page n.
func (e Endpoints) CatalogPage(n int) string {
	return fmt.Sprintf("%s/anime/?page=%d&status=&type=&order=", e.base, n)
}

// Detail returns the detail page URL for slug.
func (e Endpoints) Detail(slug string) string {
	return fmt.Sprintf("%s/anime/%s/", e.base, slug)
}

// Child returns the episode page URL for slug.
func (e Endpoints) Child(slug string) string {
	return fmt.Sprintf("%s/%s/", e.base, slug)
}

// DetailCacheKey is the freshness key for a title's detail record.
func DetailCacheKey(slug string) string {
	return "anime:" + slug
}
