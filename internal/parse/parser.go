// Package parse extracts notice records from the circulars listing page.
// The page is a plain HTML table where each row wraps one anchor holding the
// title text, a <br>, and a <small> tag with the publication date.
package parse

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ftmlabs/bknmu-notifier/internal/notices"
)

// Rows with titles shorter than this are navigation chrome or decoration, not
// circulars.
const minTitleRunes = 5

// Parser turns fetched circulars markup into ordered notices.
type Parser struct {
	base *url.URL
	log  *zap.Logger
}

// New builds a Parser. baseURL anchors relative links when the document
// itself carries no usable URL.
func New(baseURL string, logger *zap.Logger) (*Parser, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{base: base, log: logger}, nil
}

// Parse extracts notices in page order. Rows that cannot be interpreted are
// skipped individually; the returned error covers document-level failures
// only, so a page with zero usable rows parses to an empty slice.
func (p *Parser) Parse(doc notices.Document) ([]notices.Notice, error) {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("parse circulars page: %w", err)
	}

	base := p.base
	if doc.URL != "" {
		if u, err := url.Parse(doc.URL); err == nil && u.IsAbs() {
			base = u
		}
	}

	var out []notices.Notice
	rows := root.Find("tr")
	rows.Each(func(i int, row *goquery.Selection) {
		n, ok := p.parseRow(row, base)
		if !ok {
			p.log.Debug("skipping row", zap.Int("row", i))
			return
		}
		out = append(out, n)
	})

	p.log.Debug("parsed circulars page",
		zap.Int("rows", rows.Length()),
		zap.Int("notices", len(out)),
	)
	return out, nil
}

func (p *Parser) parseRow(row *goquery.Selection, base *url.URL) (notices.Notice, bool) {
	link := row.Find("a[href]").First()
	if link.Length() == 0 {
		return notices.Notice{}, false
	}

	title := titleBeforeBreak(link)
	if utf8.RuneCountInString(title) < minTitleRunes {
		return notices.Notice{}, false
	}

	href, _ := link.Attr("href")
	absURL := absoluteURL(base, href)

	rawDate := strings.TrimSpace(link.Find("small").First().Text())
	var published *time.Time
	if t, ok := ParseDate(rawDate); ok {
		published = &t
	}

	id := ""
	if absURL != "" {
		if v, err := notices.ExternalID(absURL); err == nil {
			id = v
		}
	}
	if id == "" {
		id = notices.FallbackExternalID(title, rawDate)
	}

	return notices.Notice{
		ExternalID: id,
		Title:      title,
		RawDate:    rawDate,
		Published:  published,
		URL:        absURL,
	}, true
}

// titleBeforeBreak collects the anchor's direct text nodes up to the first
// <br>. The date in <small> sits after the break, so this isolates the title
// without pulling the date into it.
func titleBeforeBreak(link *goquery.Selection) string {
	if len(link.Nodes) == 0 {
		return ""
	}
	var parts []string
	for c := link.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "br" {
			break
		}
		if c.Type != html.TextNode {
			continue
		}
		if s := strings.TrimSpace(c.Data); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func absoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
