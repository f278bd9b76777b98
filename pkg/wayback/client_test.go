package wayback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		want    *Snapshot
		wantErr error
	}{
		{
			name:   "available",
			status: http.StatusOK,
			body:   `{"archived_snapshots":{"closest":{"available":true,"url":"http://web.archive.org/web/20200101000000/https://apnews.com/x","timestamp":"20200101000000","status":"200"}}}`,
			want:   &Snapshot{URL: "http://web.archive.org/web/20200101000000/https://apnews.com/x", Timestamp: "20200101000000", Status: "200"},
		},
		{name: "none", status: http.StatusOK, body: `{"archived_snapshots":{}}`, wantErr: ErrNoSnapshot},
		{
			name:    "non-200 capture",
			status:  http.StatusOK,
			body:    `{"archived_snapshots":{"closest":{"available":true,"url":"http://web.archive.org/web/2020/x","status":"404"}}}`,
			wantErr: ErrNoSnapshot,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/wayback/available", r.URL.Path)
				assert.Equal(t, "https://apnews.com/x", r.URL.Query().Get("url"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(WithBaseURL(srv.URL))
			got, err := c.Closest(context.Background(), "https://apnews.com/x")
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRawURL(t *testing.T) {
	assert.Equal(t,
		"http://web.archive.org/web/20200101000000id_/https://apnews.com/x",
		RawURL("http://web.archive.org/web/20200101000000/https://apnews.com/x"))
	assert.Equal(t,
		"https://web.archive.org/web/20200101id_/https://a.com/",
		RawURL("https://web.archive.org/web/20200101if_/https://a.com/"))
	assert.Equal(t, "https://example.com/", RawURL("https://example.com/"))
}
