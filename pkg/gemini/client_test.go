package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash:generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "googleSearch")
		assert.Contains(t, string(body), "How did Jane Roe die?")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates":[{
				"content":{"role":"model","parts":[{"text":"{\"cause\":\"heart failure\"}"}]},
				"groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://example.com/obit","title":"Obit"}}]}
			}],
			"usageMetadata":{"promptTokenCount":420,"candidatesTokenCount":64}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(context.Background(), "test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		System:   "Answer in JSON.",
		Prompt:   "How did Jane Roe die?",
		Grounded: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"cause":"heart failure"}`, resp.Text)
	assert.Equal(t, []string{"https://example.com/obit"}, resp.Sources)
	assert.Equal(t, int64(420), resp.InputTokens)
	assert.Equal(t, int64(64), resp.OutputTokens)
}

func TestGenerate_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(context.Background(), "test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), Request{Model: "gemini-2.5-flash", Prompt: "q"})
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimited(err))
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	assert.Error(t, err)
}
