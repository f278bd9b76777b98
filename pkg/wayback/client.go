// Package wayback queries the Internet Archive availability API and builds
// raw snapshot URLs.
package wayback

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

const defaultBaseURL = "https://archive.org"

// ErrNoSnapshot is returned when the archive holds no usable capture.
var ErrNoSnapshot = eris.New("wayback: no snapshot available")

// Snapshot is the closest archived capture of a URL.
type Snapshot struct {
	URL       string
	Timestamp string
	Status    string
}

// Client looks up archived snapshots.
type Client interface {
	Closest(ctx context.Context, targetURL string) (*Snapshot, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a Wayback Machine availability client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("wayback", "available")
	return c
}

func (c *httpClient) Closest(ctx context.Context, targetURL string) (*Snapshot, error) {
	reqURL := c.baseURL + "/wayback/available?url=" + url.QueryEscape(targetURL)

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "wayback: create request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "wayback: send request")
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, eris.Wrap(err, "wayback: read response")
		}
		if err := resilience.CheckStatus(resp, b); err != nil {
			return nil, eris.Wrap(err, "wayback: availability")
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	closest := gjson.GetBytes(body, "archived_snapshots.closest")
	if !closest.Exists() || !closest.Get("available").Bool() {
		return nil, ErrNoSnapshot
	}
	snap := &Snapshot{
		URL:       closest.Get("url").String(),
		Timestamp: closest.Get("timestamp").String(),
		Status:    closest.Get("status").String(),
	}
	if snap.URL == "" || (snap.Status != "" && snap.Status != "200") {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

var snapshotPath = regexp.MustCompile(`^(https?://web\.archive\.org/web/)(\d{4,14})(?:[a-z]{2}_)?/`)

// RawURL rewrites a snapshot URL to the "id_" form, which serves the
// original bytes without the archive toolbar.
func RawURL(snapshotURL string) string {
	return snapshotPath.ReplaceAllString(snapshotURL, "${1}${2}id_/")
}
