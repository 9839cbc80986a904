package collyfetcher

import (
	"net/http"
	"strings"
)

// Identity is a browser profile: a User-Agent plus the companion headers a
// real browser of that family would send with it.
type Identity struct {
	Name      string
	UserAgent string
}

var defaultIdentities = []Identity{
	{
		Name:      "chrome-120-windows",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	},
	{
		Name:      "chrome-119-windows",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	},
	{
		Name:      "chrome-120-macos",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	},
	{
		Name:      "firefox-121-windows",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	},
	{
		Name:      "firefox-121-macos",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	},
	{
		Name:      "safari-17-macos",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	},
	{
		Name:      "edge-120-windows",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	},
}

// commonHeaders are sent with every identity.
var commonHeaders = [][2]string{
	{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
	{"Accept-Language", "en-US,en;q=0.9,id;q=0.8"},
	{"Cache-Control", "no-cache"},
	{"Pragma", "no-cache"},
	{"Sec-Fetch-Dest", "document"},
	{"Sec-Fetch-Mode", "navigate"},
	{"Sec-Fetch-Site", "none"},
	{"Sec-Fetch-User", "?1"},
	{"Upgrade-Insecure-Requests", "1"},
}

// DefaultIdentities returns a copy of the built-in browser profiles.
func DefaultIdentities() []Identity {
	out := make([]Identity, len(defaultIdentities))
	copy(out, defaultIdentities)
	return out
}

// ClientHints derives Sec-Ch-Ua headers consistent with a Chromium-family
// User-Agent. Firefox and Safari send none.
func (id Identity) ClientHints() map[string]string {
	userAgent := id.UserAgent
	var brand string
	switch {
	case strings.Contains(userAgent, "Edg/"):
		brand = `"Not_A Brand";v="8", "Chromium";v="120", "Microsoft Edge";v="120"`
	case strings.Contains(userAgent, "Chrome/120"):
		brand = `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`
	case strings.Contains(userAgent, "Chrome/119"):
		brand = `"Not_A Brand";v="8", "Chromium";v="119", "Google Chrome";v="119"`
	default:
		return nil
	}
	platform := `"Windows"`
	if strings.Contains(userAgent, "Macintosh") {
		platform = `"macOS"`
	}
	return map[string]string{
		"Sec-Ch-Ua":          brand,
		"Sec-Ch-Ua-Mobile":   "?0",
		"Sec-Ch-Ua-Platform": platform,
	}
}

// Apply sets the identity's headers on h.
func (id Identity) Apply(h http.Header) {
	h.Set("User-Agent", id.UserAgent)
	for _, kv := range commonHeaders {
		h.Set(kv[0], kv[1])
	}
	for k, v := range id.ClientHints() {
		h.Set(k, v)
	}
}
