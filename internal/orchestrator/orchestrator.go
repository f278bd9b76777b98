// Package orchestrator fans a batch of subjects out over a bounded worker
// pool, hands each outcome to a writer and aggregates the run summary.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/waterfall"
)

// DefaultConcurrency bounds the pool when none is configured.
const DefaultConcurrency = 4

// Runner processes one subject. *waterfall.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, rc *waterfall.RunContext, subject model.Subject) (*model.Outcome, error)
}

// Writer receives every terminal outcome. Calls may arrive concurrently
// and in any order.
type Writer interface {
	Write(ctx context.Context, runID string, o *model.Outcome) error
}

// Orchestrator runs a batch.
type Orchestrator struct {
	runner      Runner
	writer      Writer
	concurrency int
}

// New creates an orchestrator. A nil writer discards outcomes.
func New(runner Runner, writer Writer, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{runner: runner, writer: writer, concurrency: concurrency}
}

// Run processes subjects with at most concurrency in flight. It stops
// launching new subjects as soon as ctx is cancelled or the governor
// reports the run ceiling exhausted; subjects already running finish their
// current adapter call and are recorded. Dry runs never call the writer.
func (o *Orchestrator) Run(ctx context.Context, rc *waterfall.RunContext, runID string, subjects []model.Subject) (*model.RunSummary, error) {
	if rc.Log == nil {
		rc.Log = zap.NewNop()
	}
	log := rc.Log.With(zap.String("run_id", runID))
	summary := model.NewRunSummary()
	var mu sync.Mutex

	log.Info("orchestrator: run starting",
		zap.Int("subjects", len(subjects)),
		zap.Int("concurrency", o.concurrency),
		zap.Bool("dry_run", rc.DryRun),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	launched := 0
	var late atomic.Int32
	for _, subject := range subjects {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		if rc.Governor != nil && rc.Governor.Exhausted() {
			summary.BudgetHalted = true
			break
		}
		launched++
		g.Go(func() error {
			// The slot may have been granted after the run was halted.
			if gctx.Err() != nil || (rc.Governor != nil && rc.Governor.Exhausted()) {
				late.Add(1)
				return nil
			}
			out, err := o.runner.Run(gctx, rc, subject)
			if err != nil && !errors.Is(err, model.ErrNotCandidate) {
				log.Error("orchestrator: subject failed", zap.String("subject_id", subject.ID), zap.Error(err))
			}
			if out == nil {
				return nil
			}
			if o.writer != nil && !rc.DryRun {
				// Outcomes of a cancelled run are still persisted.
				if werr := o.writer.Write(context.WithoutCancel(gctx), runID, out); werr != nil {
					log.Error("orchestrator: write outcome failed",
						zap.String("subject_id", subject.ID),
						zap.Error(werr),
					)
				}
			}
			mu.Lock()
			tally(summary, out)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "orchestrator: run")
	}

	summary.NotStarted = len(subjects) - launched + int(late.Load())
	if ctx.Err() != nil {
		summary.Cancelled = true
	}
	if rc.Governor != nil {
		summary.TotalCost = rc.Governor.Total()
		if rc.Governor.Exhausted() {
			summary.BudgetHalted = true
		}
	}
	sort.Strings(summary.Blocked)
	sort.Strings(summary.Skipped)
	sort.Strings(summary.Invalid)

	LogSummary(log, summary)
	return summary, nil
}

func tally(s *model.RunSummary, o *model.Outcome) {
	s.Total++
	s.ByState[o.State]++
	switch o.State {
	case model.StateBlocked:
		s.Blocked = append(s.Blocked, o.Subject.ID)
	case model.StateSkipped:
		s.Skipped = append(s.Skipped, o.Subject.ID)
	case model.StateInvalid:
		s.Invalid = append(s.Invalid, o.Subject.ID)
	}
	for _, a := range o.Attempts {
		if a.Success {
			s.TierSuccesses[a.Tier]++
		}
	}
}

// LogSummary prints the run summary one line per row.
func LogSummary(log *zap.Logger, s *model.RunSummary) {
	log.Info("orchestrator: run complete",
		zap.Int("processed", s.Total),
		zap.Int("not_started", s.NotStarted),
		zap.Float64("total_cost_usd", s.TotalCost),
		zap.Bool("cancelled", s.Cancelled),
		zap.Bool("budget_halted", s.BudgetHalted),
	)
	for _, st := range []model.SubjectState{model.StateDone, model.StateSkipped, model.StateBlocked, model.StateInvalid} {
		log.Info("orchestrator: state", zap.String("state", string(st)), zap.Int("count", s.ByState[st]))
	}
	for _, t := range model.Tiers {
		log.Info("orchestrator: tier successes", zap.Stringer("tier", t), zap.Int("count", s.TierSuccesses[t]))
	}
	if len(s.Blocked) > 0 {
		log.Warn("orchestrator: blocked subjects", zap.Strings("subject_ids", s.Blocked))
	}
	if len(s.Skipped) > 0 {
		log.Warn("orchestrator: skipped subjects", zap.Strings("subject_ids", s.Skipped))
	}
	if len(s.Invalid) > 0 {
		log.Warn("orchestrator: invalid subjects", zap.Strings("subject_ids", s.Invalid))
	}
}
