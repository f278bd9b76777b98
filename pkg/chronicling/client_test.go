package chronicling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/pages/results/", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Jane Roe", q.Get("proxtext"))
		assert.Equal(t, "1931", q.Get("date1"))
		assert.Equal(t, "1932", q.Get("date2"))
		_, _ = w.Write([]byte(`{"totalItems":1,"items":[{"id":"/lccn/sn1/1931-05-02/ed-1/seq-3/","title":"The Evening Star","date":"19310502","ocr_eng":"ACTRESS DIES. Jane Roe died yesterday of pneumonia."}]}`))
	}))
	defer srv.Close()

	pages, err := NewClient(WithBaseURL(srv.URL)).SearchPages(context.Background(), Search{Phrase: "Jane Roe", FromYear: 1931, ToYear: 1932})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "The Evening Star", pages[0].Title)
	assert.Equal(t, srv.URL+"/lccn/sn1/1931-05-02/ed-1/seq-3/", pages[0].URL)
	assert.Contains(t, pages[0].OCR, "pneumonia")
}

func TestSearchPages_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"totalItems":0,"items":[]}`))
	}))
	defer srv.Close()

	pages, err := NewClient(WithBaseURL(srv.URL)).SearchPages(context.Background(), Search{Phrase: "x", FromYear: 1900, ToYear: 1901})
	require.NoError(t, err)
	assert.Empty(t, pages)
}
