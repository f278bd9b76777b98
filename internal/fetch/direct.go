package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const defaultMaxBody = 2 << 20

// DirectOptions configures a DirectFetcher.
type DirectOptions struct {
	UserAgent string
	Timeout   time.Duration
	MaxBody   int64
	Retry     resilience.RetryConfig
}

// DirectFetcher requests pages with net/http and converts block pages into
// AccessBlockedError.
type DirectFetcher struct {
	client *http.Client
	opts   DirectOptions
}

// NewDirectFetcher creates a DirectFetcher with sensible defaults.
func NewDirectFetcher(opts DirectOptions) *DirectFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
		opts.Retry.MaxAttempts = 2
	}
	return &DirectFetcher{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// Fetch retrieves targetURL, retrying transient failures only.
func (d *DirectFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	return resilience.DoVal(ctx, d.opts.Retry, func(ctx context.Context) (*Page, error) {
		return d.fetchOnce(ctx, targetURL)
	})
}

func (d *DirectFetcher) fetchOnce(ctx context.Context, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: direct")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.opts.MaxBody))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: read body")
	}

	if bt := DetectBlock(resp.StatusCode, resp.Header, body); bt != BlockNone {
		return nil, blockError(targetURL, resp.StatusCode, bt)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrPageNotFound
	}
	if err := resilience.CheckStatus(resp, body); err != nil {
		return nil, eris.Wrap(err, "fetch: direct")
	}

	return &Page{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
		Stage:      model.StageDirect,
		FetchedAt:  time.Now().UTC(),
	}, nil
}
