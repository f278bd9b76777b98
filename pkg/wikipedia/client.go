// Package wikipedia reads plain-text article extracts from the MediaWiki
// action API.
package wikipedia

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

const defaultAPI = "https://en.wikipedia.org/w/api.php"

// ErrNoArticle is returned when a title does not resolve to an article.
var ErrNoArticle = eris.New("wikipedia: article not found")

// Article is a resolved page with its plain-text body.
type Article struct {
	Title string
	URL   string
	Text  string
}

// SearchHit is one full-text search result.
type SearchHit struct {
	Title   string
	Snippet string
}

// Client reads Wikipedia.
type Client interface {
	Article(ctx context.Context, title string) (*Article, error)
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithAPIURL overrides the api.php endpoint.
func WithAPIURL(u string) Option {
	return func(c *httpClient) { c.api = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	api       string
	userAgent string
	http      *http.Client
	retry     resilience.RetryConfig
}

// NewClient creates a Wikipedia client.
func NewClient(userAgent string, opts ...Option) Client {
	c := &httpClient{
		api:       defaultAPI,
		userAgent: userAgent,
		http:      &http.Client{Timeout: 20 * time.Second},
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("wikipedia", "api")
	return c
}

// TitleFromURL extracts the article title from a /wiki/ URL.
func TitleFromURL(articleURL string) string {
	u, err := url.Parse(articleURL)
	if err != nil {
		return ""
	}
	title, ok := strings.CutPrefix(u.Path, "/wiki/")
	if !ok {
		return ""
	}
	return strings.ReplaceAll(title, "_", " ")
}

func (c *httpClient) get(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	reqURL := c.api + "?" + params.Encode()

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "wikipedia: create request")
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "wikipedia: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, eris.Wrap(err, "wikipedia: read response")
		}
		if err := resilience.CheckStatus(resp, b); err != nil {
			return nil, eris.Wrap(err, "wikipedia: api")
		}
		return b, nil
	})
}

func (c *httpClient) Article(ctx context.Context, title string) (*Article, error) {
	body, err := c.get(ctx, url.Values{
		"action":      {"query"},
		"prop":        {"extracts|info"},
		"explaintext": {"1"},
		"inprop":      {"url"},
		"redirects":   {"1"},
		"titles":      {title},
	})
	if err != nil {
		return nil, err
	}

	page := gjson.GetBytes(body, "query.pages.0")
	if !page.Exists() || page.Get("missing").Bool() || page.Get("invalid").Bool() {
		return nil, ErrNoArticle
	}
	return &Article{
		Title: page.Get("title").String(),
		URL:   page.Get("fullurl").String(),
		Text:  page.Get("extract").String(),
	}, nil
}

func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}
	body, err := c.get(ctx, url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	gjson.GetBytes(body, "query.search").ForEach(func(_, v gjson.Result) bool {
		hits = append(hits, SearchHit{Title: v.Get("title").String(), Snippet: v.Get("snippet").String()})
		return true
	})
	return hits, nil
}
