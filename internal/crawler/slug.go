package crawler

import "strings"

// SlugFromURL derives the natural key from a page URL: trailing slashes are
// trimmed and the last path segment is returned.
func SlugFromURL(raw string) string {
	trimmed := strings.TrimRight(raw, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
