package jina

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/Jane Roe cause of death", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":[
			{"title":"Jane Roe dies at 81","url":"https://example.com/a","content":"She died of heart failure.","usage":{"tokens":1200}},
			{"title":"Remembering Jane Roe","url":"https://example.com/b","content":"Tribute.","usage":{"tokens":800}}
		]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL), fastRetry())
	got, err := client.Search(context.Background(), "Jane Roe cause of death")

	require.NoError(t, err)
	require.Len(t, got.Data, 2)
	assert.Equal(t, "Jane Roe dies at 81", got.Data[0].Title)
	assert.Equal(t, int64(2000), got.Tokens())
}

func TestSearch_WithSiteFilter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "legacy.com", r.URL.Query().Get("site"))
		_, _ = w.Write([]byte(`{"code":200,"data":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry())
	_, err := client.Search(context.Background(), "obituary", WithSiteFilter("legacy.com"))
	require.NoError(t, err)
}

func TestSearch_TokenBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opts   []SearchOption
		header string
	}{
		{name: "capped", opts: []SearchOption{WithTokenBudget(10000)}, header: "10000"},
		{name: "uncapped", header: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got atomic.Value
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got.Store(r.Header.Get("X-Token-Budget"))
				_, _ = w.Write([]byte(`{"code":200,"data":[]}`))
			}))
			defer srv.Close()

			client := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry())
			_, err := client.Search(context.Background(), "obituary", tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.header, got.Load())
		})
	}
}

func TestSearch_NoResults422(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry())
	got, err := client.Search(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got.Data)
	assert.Zero(t, got.Tokens())
}

func TestSearch_RateLimitedIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry())
	_, err := client.Search(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimited(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_RetryOn500(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":[{"title":"ok","url":"u"}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry())
	got, err := client.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, got.Data, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry())
	_, err := client.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
