package subject

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultDumpURL is the public IMDb names dataset.
const DefaultDumpURL = "https://datasets.imdbws.com/name.basics.tsv.gz"

// DownloadOptions configures the dump downloader.
type DownloadOptions struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	Limiter     *rate.Limiter
}

// Downloader fetches dataset dumps with retry and conditional GETs.
type Downloader struct {
	client *http.Client
	opts   DownloadOptions
}

// NewDownloader creates a Downloader, filling unset options.
func NewDownloader(opts DownloadOptions) *Downloader {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "deadonfilm/1.0"
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(1, 1)
	}
	return &Downloader{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// etagPath is the sidecar file holding the ETag of the last download.
func etagPath(dest string) string { return dest + ".etag" }

// Fetch downloads rawURL into dest unless the server reports the copy
// on disk is current. It returns true when dest was (re)written.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dest string) (bool, error) {
	var etag string
	if _, err := os.Stat(dest); err == nil {
		if b, err := os.ReadFile(etagPath(dest)); err == nil {
			etag = strings.TrimSpace(string(b))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, eris.Wrap(err, "subject: create request")
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := d.doWithRetry(ctx, req)
	if err != nil {
		return false, eris.Wrapf(err, "subject: download %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusNotModified:
		zap.L().Info("subject: dump unchanged", zap.String("url", rawURL), zap.String("etag", etag))
		return false, nil
	case http.StatusOK:
	default:
		return false, eris.Errorf("subject: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	n, err := writeAtomic(dest, resp.Body)
	if err != nil {
		return false, err
	}
	if newTag := resp.Header.Get("ETag"); newTag != "" {
		if err := os.WriteFile(etagPath(dest), []byte(newTag+"\n"), 0o644); err != nil {
			return true, eris.Wrap(err, "subject: write etag")
		}
	}
	zap.L().Info("subject: dump downloaded", zap.String("url", rawURL), zap.String("path", dest), zap.Int64("bytes", n))
	return true, nil
}

// writeAtomic streams r into a temp file beside dest and renames it into place.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "subject: create temp file")
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, eris.Wrap(err, "subject: write dump")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return n, eris.Wrap(err, "subject: rename dump")
	}
	return n, nil
}

func (d *Downloader) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := range d.opts.MaxRetries {
		if err := d.opts.Limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := d.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("subject: request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			d.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String())
			zap.L().Warn("subject: server refused, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			d.backoff(ctx, attempt)
			continue
		}
		return resp, nil
	}
	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

func (d *Downloader) backoff(ctx context.Context, attempt int) {
	wait := time.Duration(float64(d.opts.BaseBackoff) * math.Pow(2, float64(attempt)))
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	if half := int64(wait) / 2; half > 0 {
		wait += time.Duration(rand.Int64N(half))
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
