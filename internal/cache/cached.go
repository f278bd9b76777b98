package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/internal/metrics"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/source"
)

// Options tune a Layer for one run.
type Options struct {
	// IgnoreCache skips reads. Results are still written.
	IgnoreCache bool

	// ReadOnly suppresses writes, for dry runs.
	ReadOnly bool

	Metrics *metrics.Recorder
	Log     *zap.Logger
}

// Response is a decorated lookup.
type Response struct {
	Result *model.LookupResult

	// Cached is true when no adapter call was made for this caller.
	Cached bool

	// Charged is what this caller's call added to the ledger.
	Charged float64
}

type memoized struct {
	resp *Response
	err  error
}

// Layer owns cache reads, cache writes and cost charging for every adapter
// call in a run. Adapters stay side-effect free; the layer reserves budget
// before a paid call, settles it with the actual cost, and remembers every
// answer so a key is looked up at most once per run even when the store is
// bypassed or read-only.
type Layer struct {
	store Store
	gov   *budget.Governor
	opts  Options

	group singleflight.Group

	mu   sync.Mutex
	memo map[string]memoized
}

// NewLayer creates a run-scoped layer. A nil governor means no limits.
func NewLayer(store Store, gov *budget.Governor, opts Options) *Layer {
	if store == nil {
		store = NewMemory(DefaultTTL)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if gov == nil {
		gov = budget.NewGovernor(budget.Limits{}, opts.Log)
	}
	return &Layer{store: store, gov: gov, opts: opts, memo: make(map[string]memoized)}
}

// Governor returns the ledger the layer charges.
func (l *Layer) Governor() *budget.Governor {
	return l.gov
}

// Lookup answers from the run memo or the store when it can, and otherwise
// calls the adapter. Concurrent callers for the same key share one call.
// A budget refusal is returned as an error wrapping budget.ErrBudgetExceeded
// and is not remembered.
func (l *Layer) Lookup(ctx context.Context, src source.Source, subject model.Subject) (*Response, error) {
	desc := src.Descriptor()
	key := Key(subject, desc.Type, nil)

	if m, ok := l.recall(key); ok {
		return replay(m.resp), m.err
	}

	leader := false
	v, err, _ := l.group.Do(key, func() (any, error) {
		leader = true
		if m, ok := l.recall(key); ok {
			return replay(m.resp), m.err
		}
		resp, err := l.lookup(ctx, src, desc, subject, key)
		if !errors.Is(err, budget.ErrBudgetExceeded) {
			l.remember(key, resp, err)
		}
		return resp, err
	})
	resp, _ := v.(*Response)
	if !leader {
		resp = replay(resp)
	}
	return resp, err
}

func (l *Layer) lookup(ctx context.Context, src source.Source, desc source.Descriptor, subject model.Subject, key string) (*Response, error) {
	log := l.opts.Log.With(zap.String("subject_id", subject.ID), zap.String("source", string(desc.Type)))

	if !l.opts.IgnoreCache {
		e, err := l.store.Get(ctx, key)
		if err != nil {
			log.Warn("cache: read failed", zap.Error(err))
		} else if e != nil && e.Result != nil {
			l.opts.Metrics.CacheHit(desc.Type)
			log.Debug("cache: hit")
			return &Response{Result: e.Result, Cached: true}, nil
		}
	}

	// Free sources hold nothing, but settling through a reservation still
	// keeps an unexpected charge under the ceilings.
	var estimate float64
	if !desc.IsFree() {
		estimate = desc.Cost
	}
	hold, err := l.gov.Reserve(estimate, subject.ID)
	if err != nil {
		l.opts.Metrics.BudgetRefused(desc.Type)
		return nil, err
	}

	start := time.Now()
	lctx, meter := budget.WithMeteredSpender(ctx, l.gov, subject.ID)
	res, err := src.Lookup(lctx, subject)
	l.opts.Metrics.Lookup(desc.Type, res, err, time.Since(start))
	if err != nil {
		hold.Release()
		return nil, err
	}

	// The adapter reports its own API cost. Spend taken during page fetches,
	// such as CAPTCHA solves, was charged as it happened and is added here
	// so the attempt and the cached entry carry the whole cost.
	charged := hold.Settle(res.Cost) + meter.Total()
	if charged != res.Cost {
		r := *res
		r.Cost = charged
		res = &r
	}
	l.opts.Metrics.Cost(desc.Type, charged)

	if (res.Success || res.Error.Definitive()) && !l.opts.ReadOnly {
		if err := l.store.Put(ctx, key, Entry{Result: res, Cost: charged}); err != nil {
			log.Warn("cache: write failed", zap.Error(err))
		}
	}
	return &Response{Result: res, Charged: charged}, nil
}

func (l *Layer) recall(key string) (memoized, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.memo[key]
	return m, ok
}

func (l *Layer) remember(key string, resp *Response, err error) {
	l.mu.Lock()
	l.memo[key] = memoized{resp: resp, err: err}
	l.mu.Unlock()
}

// replay marks a shared answer as free for the caller receiving it.
func replay(r *Response) *Response {
	if r == nil {
		return nil
	}
	return &Response{Result: r.Result, Cached: true}
}

// Invalidate removes every entry for a source, or for one subject of that
// source when subjectID is set.
func Invalidate(ctx context.Context, store Store, src model.SourceType, subjectID string) (int, error) {
	return store.DeletePrefix(ctx, Prefix(src, subjectID))
}
