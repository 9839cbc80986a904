package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

// ParseDetail extracts a title's detail record and its episode list.
// Slug is left for the caller to set.
func (p *Parser) ParseDetail(html []byte) crawler.DetailRecord {
	doc := newDocument(html)
	if doc == nil {
		return crawler.DetailRecord{}
	}
	poster := doc.Find("div.thumb img")
	posterURL := attr(poster, "src")
	if posterURL == "" {
		posterURL = attr(poster, "data-src")
	}
	detail := crawler.DetailRecord{
		Title:           text(doc.Find("h1.entry-title")),
		AlternateTitles: text(doc.Find("span.alter")),
		Poster:          posterURL,
		Rating:          attr(doc.Find("meta[itemprop=ratingValue]"), "content"),
		TrailerURL:      attr(doc.Find("a.trailerbutton"), "href"),
		Casts:           texts(doc.Find("a.casts")),
		Genres:          texts(doc.Find("div.genxed a")),
		Synopsis:        text(doc.Find("div.desc")),
		Children:        []crawler.ChildItem{},
	}

	doc.Find("div.spe span").Each(func(_ int, span *goquery.Selection) {
		label, value, ok := strings.Cut(strings.TrimSpace(span.Text()), ":")
		if !ok {
			return
		}
		applyInfoField(&detail, strings.ToLower(strings.TrimSpace(label)), strings.TrimSpace(value))
	})

	doc.Find("div.eplister ul li").Each(func(_ int, li *goquery.Selection) {
		link := attr(li.Find("a"), "href")
		if link == "" {
			return
		}
		detail.Children = append(detail.Children, crawler.ChildItem{
			Slug:          crawler.SlugFromURL(link),
			Number:        text(li.Find("div.epl-num")),
			Title:         text(li.Find("div.epl-title")),
			URL:           link,
			ReleaseMarker: text(li.Find("div.epl-date")),
		})
	})
	return detail
}

// applyInfoField maps one "Label: value" pair from the info block. Labels
// appear in English or Indonesian.
func applyInfoField(d *crawler.DetailRecord, label, value string) {
	switch {
	case strings.Contains(label, "status"):
		d.Status = value
	case strings.Contains(label, "studio"):
		d.Studio = value
	case strings.Contains(label, "tanggal rilis"), strings.Contains(label, "release"):
		d.ReleaseDate = value
	case strings.Contains(label, "durasi"), strings.Contains(label, "duration"):
		d.Duration = value
	case strings.Contains(label, "season"):
		d.Season = value
	case strings.Contains(label, "tipe"), strings.Contains(label, "type"):
		d.Category = value
	case strings.Contains(label, "total episode"), strings.Contains(label, "episodes"):
		d.TotalChildren = value
	case strings.Contains(label, "director"), strings.Contains(label, "sutradara"):
		d.Director = value
	}
}

func texts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}
