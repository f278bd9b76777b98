// Package fetch retrieves web pages for HTML-scraping sources, escalating
// from a direct request to an archive snapshot and then a stealth browser
// when a site blocks us.
package fetch

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// ErrPageNotFound is returned for 404/410 responses. Sources treat it as a
// definitive NotFound.
var ErrPageNotFound = eris.New("fetch: page not found")

// Page is a fetched HTML document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Stage      model.FetchStage
	ArchiveURL string
	FetchedAt  time.Time
	// SolveCost is what CAPTCHA solves cost while rendering the page. It
	// has already been charged to the budget.
	SolveCost float64
}

// Fetcher retrieves one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Document parses the page body.
func (p *Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: parse html")
	}
	return doc, nil
}

// Title returns the document title.
func (p *Page) Title() string {
	doc, err := p.Document()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// ArticleText returns paragraph text from the main content of the page,
// skipping navigation, scripts and footers.
func (p *Page) ArticleText() string {
	doc, err := p.Document()
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, footer, header, aside, form, noscript").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	root.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); len(t) > 20 {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}
