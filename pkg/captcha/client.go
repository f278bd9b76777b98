// Package captcha is a client for 2Captcha-compatible solving services.
package captcha

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL      = "https://2captcha.com"
	defaultPollInterval = 5 * time.Second
	notReady            = "CAPCHA_NOT_READY"
)

// Kind is the challenge family.
type Kind string

const (
	KindRecaptchaV2 Kind = "recaptcha_v2"
	KindHCaptcha    Kind = "hcaptcha"
	KindTurnstile   Kind = "turnstile"
)

// Task is a challenge to solve.
type Task struct {
	Kind    Kind
	SiteKey string
	PageURL string
}

// Client submits challenges and polls for their tokens.
type Client interface {
	Solve(ctx context.Context, task Task) (string, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithPollInterval overrides how often results are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *httpClient) { c.pollInterval = d }
}

type httpClient struct {
	apiKey       string
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
}

// NewClient creates a solver client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func method(k Kind) (string, string, error) {
	switch k {
	case KindRecaptchaV2:
		return "userrecaptcha", "googlekey", nil
	case KindHCaptcha:
		return "hcaptcha", "sitekey", nil
	case KindTurnstile:
		return "turnstile", "sitekey", nil
	default:
		return "", "", eris.Errorf("captcha: unsupported kind %q", k)
	}
}

// Solve submits the task and blocks until a token is ready or ctx ends.
// Callers bound the wait with a context deadline.
func (c *httpClient) Solve(ctx context.Context, task Task) (string, error) {
	m, keyParam, err := method(task.Kind)
	if err != nil {
		return "", err
	}
	form := url.Values{
		"key":     {c.apiKey},
		"method":  {m},
		keyParam:  {task.SiteKey},
		"pageurl": {task.PageURL},
		"json":    {"1"},
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "captcha: submit")
	}
	if gjson.GetBytes(body, "status").Int() != 1 {
		return "", eris.Errorf("captcha: submit rejected: %s", gjson.GetBytes(body, "request").String())
	}
	id := gjson.GetBytes(body, "request").String()

	pollURL := c.baseURL + "/res.php?" + url.Values{
		"key":    {c.apiKey},
		"action": {"get"},
		"id":     {id},
		"json":   {"1"},
	}.Encode()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", eris.Wrap(ctx.Err(), "captcha: wait for solution")
		case <-ticker.C:
		}
		body, err := c.do(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return "", eris.Wrap(err, "captcha: poll")
		}
		req := gjson.GetBytes(body, "request").String()
		if gjson.GetBytes(body, "status").Int() == 1 {
			return req, nil
		}
		if req != notReady {
			return "", eris.Errorf("captcha: solve failed: %s", req)
		}
	}
}

func (c *httpClient) do(ctx context.Context, verb, u string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, verb, u, payload)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, eris.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
