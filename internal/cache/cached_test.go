package cache

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/internal/metrics"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
	"github.com/chenders/deadonfilm-sub014/internal/source"
)

type countingSource struct {
	desc  source.Descriptor
	calls atomic.Int32
	gate  chan struct{}
	fn    func(s model.Subject) (*model.LookupResult, error)
}

func (c *countingSource) Descriptor() source.Descriptor { return c.desc }
func (c *countingSource) Available() bool               { return true }

func (c *countingSource) Lookup(_ context.Context, s model.Subject) (*model.LookupResult, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.fn(s)
}

func paidSource(cost float64) *countingSource {
	return &countingSource{
		desc: source.Descriptor{Type: "claude", Tier: model.TierAI, Reliability: model.ReliabilityAIModel, Cost: cost},
		fn: func(s model.Subject) (*model.LookupResult, error) {
			return &model.LookupResult{
				Success: true,
				Source:  model.SourceEntry{Type: "claude", Confidence: 0.6},
				Data:    &model.DeathData{Cause: "stroke"},
				Cost:    cost / 2,
			}, nil
		},
	}
}

func TestLayer_CachesAndCharges(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(DefaultTTL)
	gov := budget.NewGovernor(budget.Limits{}, nil)
	rec := metrics.New()
	src := paidSource(0.02)
	s := subject("1", "Jane Roe")

	l := NewLayer(store, gov, Options{Metrics: rec})
	first, err := l.Lookup(ctx, src, s)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.InDelta(t, 0.01, first.Charged, 1e-9)

	second, err := l.Lookup(ctx, src, s)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Zero(t, second.Charged)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.InDelta(t, 0.01, gov.Total(), 1e-9)

	// A later run reads the persisted entry without calling or charging.
	gov2 := budget.NewGovernor(budget.Limits{}, nil)
	next := NewLayer(store, gov2, Options{Metrics: rec})
	third, err := next.Lookup(ctx, src, s)
	require.NoError(t, err)
	assert.True(t, third.Cached)
	assert.Equal(t, "stroke", third.Result.Data.Cause)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Zero(t, gov2.Total())
}

func TestLayer_IgnoreCacheStillWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(DefaultTTL)
	src := paidSource(0.02)
	s := subject("1", "Jane Roe")

	require.NoError(t, store.Put(ctx, Key(s, "claude", nil), Entry{Result: model.NotFound("claude", "stale")}))

	l := NewLayer(store, nil, Options{IgnoreCache: true})
	resp, err := l.Lookup(ctx, src, s)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.True(t, resp.Result.Success)

	e, err := store.Get(ctx, Key(s, "claude", nil))
	require.NoError(t, err)
	assert.True(t, e.Result.Success, "fresh result replaced the stale entry")
}

func TestLayer_ReadOnlyWritesNothing(t *testing.T) {
	store := NewMemory(DefaultTTL)
	l := NewLayer(store, nil, Options{ReadOnly: true})

	_, err := l.Lookup(context.Background(), paidSource(0.02), subject("1", "Jane Roe"))
	require.NoError(t, err)
	assert.Zero(t, store.Len())
}

func TestLayer_OnlyDefinitiveResultsPersist(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(DefaultTTL)
	s := subject("1", "Jane Roe")

	blocked := &countingSource{
		desc: source.Descriptor{Type: "ap_news", Tier: model.TierFreeNews},
		fn: func(model.Subject) (*model.LookupResult, error) {
			return nil, &resilience.AccessBlockedError{URL: "https://apnews.com", StatusCode: 403}
		},
	}
	transient := &countingSource{
		desc: source.Descriptor{Type: "guardian", Tier: model.TierFreeNews},
		fn: func(model.Subject) (*model.LookupResult, error) {
			return model.Failed("guardian", model.ErrorTransient, errors.New("reset")), nil
		},
	}
	notFound := &countingSource{
		desc: source.Descriptor{Type: "wikidata", Tier: model.TierFreeStructured},
		fn: func(model.Subject) (*model.LookupResult, error) {
			return model.NotFound("wikidata", "no entity"), nil
		},
	}

	l := NewLayer(store, nil, Options{})
	_, err := l.Lookup(ctx, blocked, s)
	assert.True(t, resilience.IsAccessBlocked(err))
	_, err = l.Lookup(ctx, transient, s)
	require.NoError(t, err)
	_, err = l.Lookup(ctx, notFound, s)
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	e, err := store.Get(ctx, Key(s, "wikidata", nil))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, model.ErrorNotFound, e.Result.Error)

	// The blocked call is remembered for the rest of the run.
	_, err = l.Lookup(ctx, blocked, s)
	assert.True(t, resilience.IsAccessBlocked(err))
	assert.Equal(t, int32(1), blocked.calls.Load())
}

func TestLayer_BudgetRefusalIssuesNoCall(t *testing.T) {
	gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 0.01}, nil)
	src := paidSource(0.02)

	l := NewLayer(nil, gov, Options{})
	resp, err := l.Lookup(context.Background(), src, subject("1", "Jane Roe"))
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
	assert.Zero(t, src.calls.Load())
	assert.True(t, gov.Exhausted())
	assert.Zero(t, gov.Total())
}

func TestLayer_UnderestimatedCostStaysUnderCeiling(t *testing.T) {
	tests := []struct {
		name     string
		limits   budget.Limits
		estimate float64
		actual   float64
		charged  float64
	}{
		{name: "overage past ceiling is clamped", limits: budget.Limits{MaxTotalCost: 0.0005}, estimate: 0.0002, actual: 0.0010, charged: 0.0002},
		{name: "overage within ceiling is charged", limits: budget.Limits{MaxTotalCost: 0.01}, estimate: 0.0002, actual: 0.0010, charged: 0.0010},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gov := budget.NewGovernor(tt.limits, nil)
			src := &countingSource{
				desc: source.Descriptor{Type: "jina_search", Tier: model.TierPaid, Cost: tt.estimate},
				fn: func(s model.Subject) (*model.LookupResult, error) {
					return &model.LookupResult{
						Success: true,
						Source:  model.SourceEntry{Type: "jina_search", Confidence: 0.5},
						Data:    &model.DeathData{Cause: "cancer"},
						Cost:    tt.actual,
					}, nil
				},
			}
			store := NewMemory(DefaultTTL)
			l := NewLayer(store, gov, Options{})
			s := subject("1", "Jane Roe")

			resp, err := l.Lookup(context.Background(), src, s)
			require.NoError(t, err)
			assert.InDelta(t, tt.charged, resp.Charged, 1e-12)
			assert.InDelta(t, tt.charged, resp.Result.Cost, 1e-12)
			assert.LessOrEqual(t, gov.Total(), tt.limits.MaxTotalCost)

			e, err := store.Get(context.Background(), Key(s, "jina_search", nil))
			require.NoError(t, err)
			assert.InDelta(t, tt.charged, e.Cost, 1e-12)
		})
	}
}

// pageSpendSource pays for something through the context spender, the way a
// browser render pays for a CAPTCHA, before reporting its own API cost.
type pageSpendSource struct {
	desc      source.Descriptor
	pageSpend float64
	apiCost   float64
}

func (p *pageSpendSource) Descriptor() source.Descriptor { return p.desc }
func (p *pageSpendSource) Available() bool               { return true }

func (p *pageSpendSource) Lookup(ctx context.Context, s model.Subject) (*model.LookupResult, error) {
	sp, ok := budget.SpenderFrom(ctx)
	if !ok {
		return nil, errors.New("no spender")
	}
	r, err := sp.Reserve(p.pageSpend)
	if err != nil {
		return nil, err
	}
	r.Settle(p.pageSpend)
	return &model.LookupResult{
		Success: true,
		Source:  model.SourceEntry{Type: p.desc.Type, Confidence: 0.5},
		Data:    &model.DeathData{Cause: "heart failure"},
		Cost:    p.apiCost,
	}, nil
}

func TestLayer_PageSpendReachesResult(t *testing.T) {
	tests := []struct {
		name  string
		src   *pageSpendSource
		total float64
	}{
		{
			name:  "free source with solve",
			src:   &pageSpendSource{desc: source.Descriptor{Type: "ap_news", Tier: model.TierFreeNews}, pageSpend: 0.003},
			total: 0.003,
		},
		{
			name:  "paid source with solve",
			src:   &pageSpendSource{desc: source.Descriptor{Type: "google_search", Tier: model.TierPaid, Cost: 0.005}, pageSpend: 0.003, apiCost: 0.005},
			total: 0.008,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 1}, nil)
			store := NewMemory(DefaultTTL)
			l := NewLayer(store, gov, Options{})
			s := subject("1", "Jane Roe")

			resp, err := l.Lookup(context.Background(), tt.src, s)
			require.NoError(t, err)
			assert.InDelta(t, tt.total, resp.Charged, 1e-12)
			assert.InDelta(t, tt.total, resp.Result.Cost, 1e-12)
			assert.InDelta(t, tt.total, gov.Total(), 1e-12, "nothing is charged twice")

			e, err := store.Get(context.Background(), Key(s, tt.src.desc.Type, nil))
			require.NoError(t, err)
			assert.InDelta(t, tt.total, e.Cost, 1e-12)
		})
	}
}

func TestLayer_ErrorReleasesReservation(t *testing.T) {
	gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 0.03}, nil)
	src := paidSource(0.02)
	src.fn = func(model.Subject) (*model.LookupResult, error) {
		return nil, &resilience.RateLimitedError{URL: "https://api"}
	}

	l := NewLayer(nil, gov, Options{})
	_, err := l.Lookup(context.Background(), src, subject("1", "Jane Roe"))
	assert.True(t, resilience.IsRateLimited(err))
	assert.True(t, gov.CanSpend(0.03, "2"), "reservation returned to the pool")
	assert.Zero(t, gov.Total())
}

func TestLayer_ConcurrentCallersShareOneCall(t *testing.T) {
	src := paidSource(0.02)
	src.gate = make(chan struct{})
	gov := budget.NewGovernor(budget.Limits{}, nil)
	l := NewLayer(nil, gov, Options{})
	s := subject("1", "Jane Roe")

	const callers = 8
	var wg sync.WaitGroup
	responses := make([]*Response, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := l.Lookup(context.Background(), src, s)
			assert.NoError(t, err)
			responses[i] = resp
		}()
	}
	// Let the callers pile up behind the single in-flight call.
	for src.calls.Load() == 0 {
		runtime.Gosched()
	}
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	var charged float64
	fresh := 0
	for _, r := range responses {
		require.NotNil(t, r)
		charged += r.Charged
		if !r.Cached {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.InDelta(t, 0.01, charged, 1e-9)
	assert.InDelta(t, 0.01, gov.Total(), 1e-9)
}

// TestLayer_Idempotent checks that any interleaving of repeated lookups
// calls each adapter at most once per key and charges at most once per key.
func TestLayer_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		costs := []float64{0, 0.005, 0.02}
		sources := make([]*countingSource, len(costs))
		for i, c := range costs {
			src := paidSource(c)
			src.desc.Type = model.SourceType([]string{"wikidata", "google_search", "claude"}[i])
			sources[i] = src
		}
		subjects := []model.Subject{subject("1", "Jane Roe"), subject("2", "John Doe")}

		gov := budget.NewGovernor(budget.Limits{}, nil)
		l := NewLayer(NewMemory(DefaultTTL), gov, Options{IgnoreCache: rapid.Bool().Draw(t, "ignore")})

		seen := map[string]bool{}
		var want float64
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			si := rapid.IntRange(0, len(sources)-1).Draw(t, "source")
			sj := rapid.IntRange(0, len(subjects)-1).Draw(t, "subject")
			src, s := sources[si], subjects[sj]

			resp, err := l.Lookup(context.Background(), src, s)
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			k := Key(s, src.desc.Type, nil)
			if seen[k] && (!resp.Cached || resp.Charged != 0) {
				t.Fatalf("repeat lookup of %s was not served from cache", k)
			}
			if !seen[k] {
				want += costs[si] / 2
			}
			seen[k] = true
		}

		for i, src := range sources {
			if n := src.calls.Load(); n > int32(len(subjects)) {
				t.Fatalf("source %d called %d times", i, n)
			}
		}
		if diff := gov.Total() - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("charged %f, want %f", gov.Total(), want)
		}
	})
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(DefaultTTL)
	a, b := subject("1", "Jane Roe"), subject("2", "John Doe")
	for _, s := range []model.Subject{a, b} {
		require.NoError(t, store.Put(ctx, Key(s, "claude", nil), Entry{}))
		require.NoError(t, store.Put(ctx, Key(s, "wikidata", nil), Entry{}))
	}

	n, err := Invalidate(ctx, store, "claude", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = Invalidate(ctx, store, "wikidata", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, store.Len())
}
