// Package waterfall walks a subject through the source tiers, escalating
// only while the merged record is below threshold and the budget allows.
package waterfall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/internal/cache"
	"github.com/chenders/deadonfilm-sub014/internal/confidence"
	"github.com/chenders/deadonfilm-sub014/internal/metrics"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
	"github.com/chenders/deadonfilm-sub014/internal/source"
)

// ReasonCancelled marks subjects stopped by a run-level cancellation.
const ReasonCancelled = "cancelled"

// RunContext carries the per-run handles threaded through the scheduler.
// It is built once per run and shared by every subject. Adapters never see
// it.
type RunContext struct {
	Log         *zap.Logger
	Cache       cache.Store
	Governor    *budget.Governor
	IgnoreCache bool
	DryRun      bool
	Metrics     *metrics.Recorder
	Breakers    *resilience.SourceBreakers

	once   sync.Once
	lookup *cache.Layer
}

func (rc *RunContext) init() {
	rc.once.Do(func() {
		if rc.Log == nil {
			rc.Log = zap.NewNop()
		}
		if rc.Governor == nil {
			rc.Governor = budget.NewGovernor(budget.Limits{}, rc.Log)
		}
		if rc.Breakers == nil {
			rc.Breakers = resilience.NewSourceBreakers(resilience.DefaultCircuitBreakerConfig())
		}
		if rc.Cache == nil {
			rc.Cache = cache.NewMemory(cache.DefaultTTL)
		}
		rc.lookup = cache.NewLayer(rc.Cache, rc.Governor, cache.Options{
			IgnoreCache: rc.IgnoreCache,
			ReadOnly:    rc.DryRun,
			Metrics:     rc.Metrics,
			Log:         rc.Log,
		})
	})
}

// Executor runs the tier cascade for one subject at a time. It holds no
// per-subject state and is safe for concurrent use.
type Executor struct {
	cfg      *Config
	registry *source.Registry
	tiers    []model.Tier
	now      func() time.Time // injectable for testing
}

// NewExecutor creates a waterfall executor over the given tiers. Nil tiers
// means every tier the config enables.
func NewExecutor(cfg *Config, registry *source.Registry, tiers []model.Tier) *Executor {
	if cfg == nil {
		cfg = DefaultConfigValues()
	}
	if tiers == nil {
		tiers = cfg.EnabledTiers(nil)
	}
	return &Executor{cfg: cfg, registry: registry, tiers: tiers, now: time.Now}
}

// WithNow sets a clock for testing.
func (e *Executor) WithNow(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Tiers returns the tiers this executor may attempt.
func (e *Executor) Tiers() []model.Tier {
	return e.tiers
}

// subjectRun is the mutable state of one subject's walk.
type subjectRun struct {
	rc      *RunContext
	subject model.Subject
	log     *zap.Logger
	out     *model.Outcome
}

// Run processes one subject and always returns its outcome. The error is
// non-nil only for an invalid subject, and then wraps model.ErrNotCandidate.
//
// Each adapter call runs detached from ctx under the configured call
// timeout, so a cancellation lets the in-flight call finish; the subject
// then stops escalating and ends SKIPPED.
func (e *Executor) Run(ctx context.Context, rc *RunContext, subject model.Subject) (*model.Outcome, error) {
	rc.init()
	sr := &subjectRun{
		rc:      rc,
		subject: subject,
		log:     rc.Log.With(zap.String("subject_id", subject.ID), zap.String("name", subject.Name)),
		out: &model.Outcome{
			Subject:   subject,
			State:     model.StatePending,
			Record:    model.NewMergedRecord(subject.ID),
			StartedAt: e.now().UTC(),
		},
	}

	if err := subject.Validate(); err != nil {
		sr.finish(e, model.StateInvalid, err.Error())
		return sr.out, err
	}

	required := e.cfg.Required()
	threshold := e.cfg.Defaults.ConfidenceThreshold

	for _, tier := range e.tiers {
		if ctx.Err() != nil {
			return sr.finish(e, model.StateSkipped, ReasonCancelled), nil
		}

		srcs := e.candidates(rc, tier)
		if len(srcs) == 0 {
			sr.log.Debug("waterfall: tier has no available sources", zap.Stringer("tier", tier))
			continue
		}

		if worst := worstCost(srcs); worst > 0 {
			if err := rc.Governor.Permit(worst, subject.ID); err != nil {
				rc.Metrics.BudgetRefused(srcs[0].Descriptor().Type)
				sr.log.Info("waterfall: tier refused by budget",
					zap.Stringer("tier", tier),
					zap.Float64("worst_case", worst),
					zap.Error(err),
				)
				return sr.finish(e, model.StateSkipped, "budget: "+err.Error()), nil
			}
		}

		sr.out.State = model.StateForTier(tier)
		sr.out.LastTier = tier

		for _, src := range srcs {
			if ctx.Err() != nil {
				return sr.finish(e, model.StateSkipped, ReasonCancelled), nil
			}
			if err := rc.Breakers.Get(src.Descriptor().Type).Allow(); err != nil {
				sr.log.Debug("waterfall: source circuit open", zap.String("source", string(src.Descriptor().Type)))
				continue
			}

			refused := sr.attempt(ctx, e.cfg.Defaults.CallTimeout, tier, src)
			if refused != nil {
				return sr.finish(e, model.StateSkipped, "budget: "+refused.Error()), nil
			}
			if confidence.Satisfied(sr.out.Record, required, threshold) {
				return sr.finish(e, model.StateDone, ""), nil
			}
		}
	}

	if ctx.Err() != nil {
		return sr.finish(e, model.StateSkipped, ReasonCancelled), nil
	}
	if !sr.out.Succeeded() {
		reason := "every source failed"
		if len(sr.out.Attempts) == 0 {
			reason = "no source available"
		}
		return sr.finish(e, model.StateBlocked, reason), nil
	}
	return sr.finish(e, model.StateDone, fmt.Sprintf("confidence %.2f below threshold %.2f",
		sr.out.Record.MinConfidence(required), threshold)), nil
}

// candidates lists the enabled, available sources of a tier in priority
// order.
func (e *Executor) candidates(rc *RunContext, tier model.Tier) []source.Source {
	if e.registry == nil {
		return nil
	}
	var out []source.Source
	for _, s := range e.registry.ForTier(tier) {
		if rc.Breakers.Get(s.Descriptor().Type).State() == resilience.CircuitOpen {
			continue
		}
		out = append(out, s)
	}
	return out
}

// worstCost is the most any single call in the tier could cost.
func worstCost(srcs []source.Source) float64 {
	var worst float64
	for _, s := range srcs {
		if c := s.Descriptor().Cost; c > worst {
			worst = c
		}
	}
	return worst
}

// attempt performs one cache-backed lookup and folds its result. It
// returns the violation when the governor refused the call.
func (sr *subjectRun) attempt(ctx context.Context, timeout time.Duration, tier model.Tier, src source.Source) error {
	desc := src.Descriptor()
	log := sr.log.With(zap.String("source", string(desc.Type)), zap.Stringer("tier", tier))

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	sr.rc.Governor.RecordAttempt(sr.subject.ID)
	start := time.Now()
	resp, err := sr.rc.lookup.Lookup(callCtx, src, sr.subject)
	a := model.Attempt{Source: desc.Type, Tier: tier, Duration: time.Since(start)}

	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		a.Error = model.ErrorBudgetExceeded
		a.Message = err.Error()
		sr.out.Attempts = append(sr.out.Attempts, a)
		log.Info("waterfall: call refused by budget", zap.Error(err))
		return err

	case err != nil:
		a.Error = resilience.ClassifyError(err)
		a.Message = err.Error()
		sr.rc.Breakers.Get(desc.Type).Record(a.Error)
		sr.out.Attempts = append(sr.out.Attempts, a)
		log.Warn("waterfall: lookup failed", zap.String("kind", string(a.Error)), zap.Error(err))
		return nil
	}

	res := resp.Result
	a.Success = res.Success
	a.Error = res.Error
	a.Message = res.ErrorMessage
	a.Cost = resp.Charged
	a.Cached = resp.Cached
	a.Stage = res.Source.Stage
	sr.rc.Breakers.Get(desc.Type).Record(res.Error)
	sr.out.Attempts = append(sr.out.Attempts, a)

	changed := confidence.Fold(sr.out.Record, res)
	log.Debug("waterfall: lookup complete",
		zap.Bool("success", res.Success),
		zap.Bool("cached", resp.Cached),
		zap.Float64("confidence", res.Source.Confidence),
		zap.Float64("charged", resp.Charged),
		zap.Int("fields_changed", len(changed)),
	)
	return nil
}

func (sr *subjectRun) finish(e *Executor, state model.SubjectState, reason string) *model.Outcome {
	o := sr.out
	o.State = state
	o.Reason = reason
	o.Cost = sr.rc.Governor.Subject(sr.subject.ID).Cost
	o.FinishedAt = e.now().UTC()
	sr.rc.Metrics.Subject(state)
	sr.log.Info("waterfall: subject finished",
		zap.String("state", string(state)),
		zap.String("reason", reason),
		zap.String("cause", o.Record.Value(model.FieldCause)),
		zap.Float64("cost", o.Cost),
		zap.Int("attempts", len(o.Attempts)),
	)
	return o
}
