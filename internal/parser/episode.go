package parser

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

var qualityPattern = regexp.MustCompile(`(?i)(1080p|720p|480p|360p|240p)`)

// ParseChild extracts an episode page: its title, the default player
// source, and one LeafRecord per mirror option. Mirror values are base64
// encoded HTML fragments; options that are empty, undecodable, or carry no
// playable URL are skipped.
func (p *Parser) ParseChild(html []byte) crawler.ChildPage {
	doc := newDocument(html)
	if doc == nil {
		return crawler.ChildPage{}
	}
	page := crawler.ChildPage{
		Title:         text(doc.Find("h1.entry-title")),
		DefaultSource: attr(doc.Find("div#embed_holder video source"), "src"),
		Leaves:        []crawler.LeafRecord{},
	}

	doc.Find("select.mirror option").Each(func(_ int, opt *goquery.Selection) {
		encoded := strings.TrimSpace(opt.AttrOr("value", ""))
		if encoded == "" {
			return
		}
		fragment, err := decodeMirror(encoded)
		if err != nil {
			return
		}
		src := firstSource(fragment)
		if src == "" {
			return
		}
		server, quality := serverAndQuality(strings.TrimSpace(opt.Text()))
		page.Leaves = append(page.Leaves, crawler.LeafRecord{
			Server:  server,
			Quality: quality,
			URL:     src,
		})
	})
	return page
}

func decodeMirror(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return "", err
		}
	}
	return string(raw), nil
}

func firstSource(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var src string
	doc.Find("source, video, iframe, embed").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v := strings.TrimSpace(s.AttrOr("src", "")); v != "" {
			src = v
			return false
		}
		return true
	})
	return src
}

// serverAndQuality splits labels like "Server A - 720p". Labels without the
// separator keep the whole label as the server and detect quality by pattern.
func serverAndQuality(label string) (string, string) {
	if server, quality, ok := strings.Cut(label, " - "); ok {
		return strings.TrimSpace(server), strings.TrimSpace(quality)
	}
	quality := "unknown"
	if m := qualityPattern.FindString(label); m != "" {
		quality = strings.ToLower(m)
	}
	server := label
	if server == "" {
		server = "unknown"
	}
	return server, quality
}
