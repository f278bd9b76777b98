package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

func response(status int, header http.Header) *http.Response {
	u, _ := url.Parse("https://example.com/obit")
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Request: &http.Request{URL: u}}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		check  func(t *testing.T, err error)
	}{
		{"ok", 200, nil, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"forbidden", 403, nil, func(t *testing.T, err error) {
			var ab *AccessBlockedError
			assert.True(t, errors.As(err, &ab))
			assert.Equal(t, 403, ab.StatusCode)
			assert.Equal(t, "https://example.com/obit", ab.URL)
		}},
		{"unauthorized", 401, nil, func(t *testing.T, err error) { assert.True(t, IsAccessBlocked(err)) }},
		{"paywall", 402, nil, func(t *testing.T, err error) { assert.True(t, IsAccessBlocked(err)) }},
		{"too many requests", 429, http.Header{"Retry-After": []string{"30"}}, func(t *testing.T, err error) {
			var rl *RateLimitedError
			assert.True(t, errors.As(err, &rl))
			assert.Equal(t, 30*time.Second, rl.RetryAfter)
		}},
		{"bad gateway", 502, nil, func(t *testing.T, err error) { assert.True(t, IsTransient(err)) }},
		{"not found", 404, nil, func(t *testing.T, err error) {
			assert.Error(t, err)
			assert.False(t, IsTransient(err))
			assert.False(t, IsAccessBlocked(err))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, CheckStatus(response(tt.status, tt.header), []byte("body")))
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ErrorKind
	}{
		{"nil", nil, model.ErrorNone},
		{"blocked", eris.Wrap(&AccessBlockedError{Reason: "captcha"}, "fetch"), model.ErrorAccessBlocked},
		{"rate limited", &RateLimitedError{}, model.ErrorRateLimited},
		{"circuit", eris.Wrap(ErrCircuitOpen, "source"), model.ErrorUnavailable},
		{"deadline", context.DeadlineExceeded, model.ErrorTransient},
		{"transient", NewTransientError(errors.New("boom"), 503), model.ErrorTransient},
		{"other", errors.New("parse failure"), model.ErrorUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestBlockedAndRateLimitedAreNotTransient(t *testing.T) {
	assert.False(t, IsTransient(&AccessBlockedError{}))
	assert.False(t, IsTransient(&RateLimitedError{}))
	assert.True(t, IsTransient(errors.New("read tcp: i/o timeout")))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
