package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

func TestRecorder_Lookup(t *testing.T) {
	r := New()

	r.Lookup("wikidata", &model.LookupResult{Success: true}, nil, 200*time.Millisecond)
	r.Lookup("wikidata", model.NotFound("wikidata", "nothing"), nil, time.Second)
	r.Lookup("wikidata", nil, errors.New("boom"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.lookups.WithLabelValues("wikidata", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lookups.WithLabelValues("wikidata", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lookups.WithLabelValues("wikidata", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.lookupDuration))
}

func TestRecorder_CostIgnoresZero(t *testing.T) {
	r := New()
	r.Cost("claude", 0)
	r.Cost("claude", 0.012)
	r.Cost("claude", 0.003)

	assert.InDelta(t, 0.015, testutil.ToFloat64(r.cost.WithLabelValues("claude")), 1e-9)
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Lookup("x", nil, nil, 0)
		r.Cost("x", 1)
		r.CacheHit("x")
		r.BudgetRefused("x")
		r.Subject(model.StateDone)
		require.NoError(t, r.WriteTextfile("ignored.prom"))
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := New()
	r.CacheHit("wikipedia")
	r.Subject(model.StateDone)
	r.BudgetRefused("perplexity")

	path := filepath.Join(t.TempDir(), "deadonfilm.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `deadonfilm_cache_hits_total{source="wikipedia"} 1`)
	assert.Contains(t, string(data), `deadonfilm_subjects_total{state="done"} 1`)
	assert.Contains(t, string(data), `deadonfilm_budget_refusals_total{source="perplexity"} 1`)
}
