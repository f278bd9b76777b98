package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// TransientError wraps an error that is safe to retry (5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// AccessBlockedError signals a paywall, bot wall or CAPTCHA. It routes a
// lookup into the fallback chain instead of counting as a plain failure.
type AccessBlockedError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *AccessBlockedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("access blocked (%s, status %d): %s", e.Reason, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("access blocked (%s): %s", e.Reason, e.URL)
}

// RateLimitedError signals that the source asked us to slow down.
type RateLimitedError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.URL)
	}
	return "rate limited: " + e.URL
}

// IsAccessBlocked reports whether err carries an AccessBlockedError.
func IsAccessBlocked(err error) bool {
	var ab *AccessBlockedError
	return errors.As(err, &ab)
}

// IsRateLimited reports whether err carries a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or matches common network failure patterns. Blocks and
// rate limits are never transient: retrying them immediately is pointless.
func IsTransient(err error) bool {
	if err == nil || IsAccessBlocked(err) || IsRateLimited(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus returns true for server-side statuses worth retrying.
// 429 is handled separately as a rate limit.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// CheckStatus converts a non-2xx HTTP status into the matching typed error.
// It returns nil for 2xx responses.
func CheckStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AccessBlockedError{URL: url, StatusCode: resp.StatusCode, Reason: "http_status"}
	case resp.StatusCode == http.StatusPaymentRequired:
		return &AccessBlockedError{URL: url, StatusCode: resp.StatusCode, Reason: "paywall"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{URL: url, RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"))}
	case IsTransientHTTPStatus(resp.StatusCode):
		return NewTransientError(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)), resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ClassifyError maps an adapter error onto the lookup error taxonomy.
func ClassifyError(err error) model.ErrorKind {
	switch {
	case err == nil:
		return model.ErrorNone
	case IsAccessBlocked(err):
		return model.ErrorAccessBlocked
	case IsRateLimited(err):
		return model.ErrorRateLimited
	case errors.Is(err, ErrCircuitOpen):
		return model.ErrorUnavailable
	case errors.Is(err, context.DeadlineExceeded), IsTransient(err):
		return model.ErrorTransient
	default:
		return model.ErrorUnexpected
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
