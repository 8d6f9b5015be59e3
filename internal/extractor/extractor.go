// Package extractor turns raw HTML into a PageRecord. Parsing never fails:
// missing elements degrade to empty fields.
package extractor

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/robavelii/web-scrapper/pkg/types"
)

// Parse extracts title, description, keywords, author and links from markup.
// Links are resolved against source (or a <base href> inside the document)
// and split by whether they share source's authority. It performs no I/O and
// returns identical records for identical input.
func Parse(markup []byte, source *url.URL) types.PageRecord {
	record := types.PageRecord{
		InternalLinks: []string{},
		ExternalLinks: []string{},
	}
	if source != nil {
		record.URL = source.String()
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return record
	}

	record.Title = firstText(doc, "title", "h1")
	record.Description = metaContent(doc, "description")
	if record.Description == "" {
		record.Description = firstText(doc, "p")
	}
	record.Keywords = metaContent(doc, "keywords")
	record.Author = metaContent(doc, "author")

	if source != nil {
		record.InternalLinks, record.ExternalLinks = partitionLinks(doc, source)
	}
	return record
}

// firstText returns the normalised text of the first non-empty match, trying selectors in order.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := normalizeWhitespace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// metaContent looks up <meta name=...> case-insensitively.
func metaContent(doc *goquery.Document, name string) string {
	var content string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		attr, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(attr), name) {
			return true
		}
		value, _ := s.Attr("content")
		content = normalizeWhitespace(value)
		return false
	})
	return content
}

func partitionLinks(doc *goquery.Document, source *url.URL) (internal, external []string) {
	internal = []string{}
	external = []string{}

	base := source
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := source.Parse(strings.TrimSpace(href)); err == nil && u.IsAbs() {
			base = u
		}
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := resolve(base, href)
		if !ok {
			return
		}
		if types.SameAuthority(source, link) {
			internal = append(internal, link.String())
		} else {
			external = append(external, link.String())
		}
	})
	return internal, external
}

// resolve turns href into an absolute http(s) URL.
func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil, false
	}
	u, err := base.Parse(href)
	if err != nil {
		return nil, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, false
	}
	if u.Host == "" {
		return nil, false
	}
	return u, true
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
