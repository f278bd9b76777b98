package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolve(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "userrecaptcha", r.PostForm.Get("method"))
			assert.Equal(t, "site-key", r.PostForm.Get("googlekey"))
			assert.Equal(t, "https://news.example/obit", r.PostForm.Get("pageurl"))
			_, _ = w.Write([]byte(`{"status":1,"request":"42"}`))
		case "/res.php":
			assert.Equal(t, "42", r.URL.Query().Get("id"))
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":1,"request":"token-abc"}`))
		}
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	token, err := c.Solve(context.Background(), Task{Kind: KindRecaptchaV2, SiteKey: "site-key", PageURL: "https://news.example/obit"})
	require.NoError(t, err)
	assert.Equal(t, "token-abc", token)
	assert.Equal(t, int32(2), polls.Load())
}

func TestSolveRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":0,"request":"ERROR_ZERO_BALANCE"}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.Solve(context.Background(), Task{Kind: KindHCaptcha, SiteKey: "k", PageURL: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_ZERO_BALANCE")
}

func TestSolveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			_, _ = w.Write([]byte(`{"status":1,"request":"1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Solve(ctx, Task{Kind: KindTurnstile, SiteKey: "k", PageURL: "u"})
	assert.Error(t, err)
}

func TestUnsupportedKind(t *testing.T) {
	c := NewClient("key")
	_, err := c.Solve(context.Background(), Task{Kind: "funcaptcha"})
	assert.Error(t, err)
}
