// Package parser extracts catalog, detail, and episode records from the
// target site's HTML using goquery. Parsing never fails: missing elements
// produce empty fields and malformed documents produce empty results.
package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

// Parser implements crawler.Parser.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

func newDocument(html []byte) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}
	return doc
}

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.First().Text())
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.First().Attr(name)
	return strings.TrimSpace(v)
}

// ParseCatalog extracts the summary records listed on a catalog page.
func (p *Parser) ParseCatalog(html []byte) []crawler.CatalogRecord {
	doc := newDocument(html)
	if doc == nil {
		return nil
	}
	items := doc.Find("div.listupd article.bs")
	if items.Length() == 0 {
		items = doc.Find("article.bs")
	}
	records := make([]crawler.CatalogRecord, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		link := attr(item.Find("a[itemprop=url]"), "href")
		if link == "" {
			link = attr(item.Find("a"), "href")
		}
		if link == "" {
			return
		}
		thumb := item.Find("img.ts-post-image")
		thumbnail := attr(thumb, "src")
		if thumbnail == "" {
			thumbnail = attr(thumb, "data-src")
		}
		title := text(item.Find("h2[itemprop=headline]"))
		if title == "" {
			title = attr(item.Find("a"), "title")
		}
		records = append(records, crawler.CatalogRecord{
			Slug:            crawler.SlugFromURL(link),
			Title:           title,
			URL:             link,
			Thumbnail:       thumbnail,
			Status:          text(item.Find("div.status")),
			Category:        text(item.Find("div.typez")),
			SecondaryStatus: text(item.Find("span.epx")),
		})
	})
	return records
}
