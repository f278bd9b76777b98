package source

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/fetch"
	"github.com/chenders/deadonfilm-sub014/internal/model"
)

const duckDuckGoHTML = "https://html.duckduckgo.com/html/"

// searchHit is one organic result of an HTML search page.
type searchHit struct {
	Title   string
	URL     string
	Snippet string
}

// webSearch runs a DuckDuckGo HTML query through f.
func webSearch(ctx context.Context, f fetch.Fetcher, baseURL, query string) ([]searchHit, *fetch.Page, error) {
	page, err := f.Fetch(ctx, baseURL+"?"+url.Values{"q": {query}}.Encode())
	if err != nil {
		return nil, nil, err
	}
	doc, err := page.Document()
	if err != nil {
		return nil, page, err
	}
	if doc.Find(".result, .results").Length() == 0 && doc.Find(".no-results").Length() == 0 {
		return nil, page, eris.New("source: unrecognised search results page")
	}

	var hits []searchHit
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		if s.HasClass("result--ad") {
			return
		}
		a := s.Find("a.result__a").First()
		href, _ := a.Attr("href")
		target := resolveRedirect(href)
		if target == "" {
			return
		}
		hits = append(hits, searchHit{
			Title:   strings.TrimSpace(a.Text()),
			URL:     target,
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").Text()), " "),
		})
	})
	return hits, page, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// hostMatches reports whether rawURL is on domain or one of its subdomains.
func hostMatches(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// snippetText joins the snippets of hits that mention subject.
func snippetText(hits []searchHit, subject model.Subject) (string, string) {
	var parts []string
	firstURL := ""
	for _, h := range hits {
		text := h.Title + ". " + h.Snippet
		if !MentionsSubject(text, subject) {
			continue
		}
		if firstURL == "" {
			firstURL = h.URL
		}
		parts = append(parts, strings.TrimSuffix(h.Snippet, "...")+".")
	}
	return strings.Join(parts, " "), firstURL
}

// deathQuery builds the search phrase used by web and paid search sources.
func deathQuery(subject model.Subject) string {
	q := `"` + subject.Name + `"`
	if y := subject.DeathYear(); y > 0 {
		q += " died " + strconv.Itoa(y)
	}
	return q + " cause of death"
}
