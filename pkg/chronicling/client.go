// Package chronicling searches the Library of Congress Chronicling America
// digitized newspaper archive.
package chronicling

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

const defaultBaseURL = "https://chroniclingamerica.loc.gov"

// LastYear is the final year the archive covers.
const LastYear = 1963

// Page is one OCRed newspaper page.
type Page struct {
	ID    string
	Title string
	Date  string
	URL   string
	OCR   string
}

// Search narrows a full-text search to a year range.
type Search struct {
	Phrase   string
	FromYear int
	ToYear   int
	Rows     int
}

// Client searches newspaper pages.
type Client interface {
	SearchPages(ctx context.Context, s Search) ([]Page, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the archive host.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a Chronicling America client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("chronicling_america", "search")
	return c
}

func (c *httpClient) SearchPages(ctx context.Context, s Search) ([]Page, error) {
	if s.Rows <= 0 {
		s.Rows = 5
	}
	q := url.Values{
		"proxtext":       {s.Phrase},
		"dateFilterType": {"yearRange"},
		"date1":          {strconv.Itoa(s.FromYear)},
		"date2":          {strconv.Itoa(s.ToYear)},
		"rows":           {strconv.Itoa(s.Rows)},
		"format":         {"json"},
	}
	reqURL := c.baseURL + "/search/pages/results/?" + q.Encode()

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "chronicling: create request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "chronicling: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, eris.Wrap(err, "chronicling: read response")
		}
		if err := resilience.CheckStatus(resp, b); err != nil {
			return nil, eris.Wrap(err, "chronicling: search")
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	var pages []Page
	gjson.GetBytes(body, "items").ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id").String()
		pages = append(pages, Page{
			ID:    id,
			Title: v.Get("title").String(),
			Date:  v.Get("date").String(),
			URL:   c.baseURL + id,
			OCR:   v.Get("ocr_eng").String(),
		})
		return true
	})
	return pages, nil
}
