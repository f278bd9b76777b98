package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/internal/metrics"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/orchestrator"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
	"github.com/chenders/deadonfilm-sub014/internal/store"
	"github.com/chenders/deadonfilm-sub014/internal/waterfall"
)

// enrichOptions are the enrich command flags.
type enrichOptions struct {
	limit        int
	batchSize    int
	maxCost      float64
	maxTotalCost float64
	dryRun       bool
	retryDLQ     bool
	ignoreCache  bool
	tiers        tierFlags
}

var enrichOpts enrichOptions

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich pending subjects with cause-of-death data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runEnrich(ctx, cmd, enrichOpts)
	},
}

func init() {
	f := enrichCmd.Flags()
	f.IntVar(&enrichOpts.limit, "limit", 100, "max number of subjects to process (0 = all pending)")
	f.IntVar(&enrichOpts.batchSize, "batch-size", 0, "subjects processed concurrently (0 = batch.concurrency)")
	f.Float64Var(&enrichOpts.maxCost, "max-cost", -1, "per-subject spend ceiling in USD (-1 = budget.max_subject_cost)")
	f.Float64Var(&enrichOpts.maxTotalCost, "max-total-cost", -1, "run spend ceiling in USD (-1 = budget.max_total_cost)")
	f.BoolVar(&enrichOpts.dryRun, "dry-run", false, "run the scheduler but write nothing")
	f.BoolVar(&enrichOpts.retryDLQ, "retry-dlq", false, "re-run subjects from the dead letter queue instead of pending ones")
	f.BoolVar(&enrichOpts.ignoreCache, "ignore-cache", false, "skip cache reads (results are still cached)")
	f.BoolVar(&enrichOpts.tiers.free, "free", true, "enable the free tiers")
	f.BoolVar(&enrichOpts.tiers.paid, "paid", false, "enable the paid search tier")
	f.BoolVar(&enrichOpts.tiers.ai, "ai", false, "enable the AI tier")
	rootCmd.AddCommand(enrichCmd)
}

// limits merges the flag overrides onto the configured ceilings. Running
// without paid or AI tiers refuses every non-free call.
func (o enrichOptions) limits(base budget.Limits) budget.Limits {
	if o.maxCost >= 0 {
		base.MaxSubjectCost = o.maxCost
	}
	if o.maxTotalCost >= 0 {
		base.MaxTotalCost = o.maxTotalCost
	}
	base.FreeOnly = !o.tiers.paid && !o.tiers.ai
	return base
}

func (o enrichOptions) runOptions(tiers []model.Tier, limits budget.Limits) model.RunOptions {
	return model.RunOptions{
		Limit:        o.limit,
		BatchSize:    o.batchSize,
		MaxCost:      limits.MaxSubjectCost,
		MaxTotalCost: limits.MaxTotalCost,
		Tiers:        tiers,
		DryRun:       o.dryRun,
		IgnoreCache:  o.ignoreCache,
	}
}

func runEnrich(ctx context.Context, cmd *cobra.Command, opts enrichOptions) error {
	log := zap.L()

	env, err := initEnrich(ctx, cfg, opts.tiers)
	if err != nil {
		return err
	}
	defer env.Close()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	subjects, err := loadSubjects(ctx, st, opts)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		log.Info("deadonfilm: nothing to enrich", zap.Bool("retry_dlq", opts.retryDLQ))
		return nil
	}

	limits := opts.limits(cfg.Budget)
	runOpts := opts.runOptions(env.Tiers, limits)

	runID := "dry-run-" + uuid.NewString()
	if !opts.dryRun {
		run, err := st.CreateRun(ctx, runOpts)
		if err != nil {
			return err
		}
		runID = run.ID
	}

	rec := metrics.New()
	rc := &waterfall.RunContext{
		Log:         log.With(zap.String("run_id", runID)),
		Cache:       env.Cache,
		Governor:    budget.NewGovernor(limits, log),
		IgnoreCache: opts.ignoreCache,
		DryRun:      opts.dryRun,
		Metrics:     rec,
		Breakers:    resilience.NewSourceBreakers(cfg.Batch.Breaker.Config()),
	}

	concurrency := opts.batchSize
	if concurrency <= 0 {
		concurrency = cfg.Batch.Concurrency
	}
	var writer orchestrator.Writer
	if !opts.dryRun {
		writer = orchestrator.NewStoreWriter(st)
	}

	summary, runErr := orchestrator.New(env.Executor, writer, concurrency).Run(ctx, rc, runID, subjects)

	if cfg.Metrics.Textfile != "" {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warn("deadonfilm: write metrics textfile failed", zap.Error(err))
		}
	}

	if !opts.dryRun {
		status := runStatus(summary, runErr)
		if err := st.CompleteRun(context.WithoutCancel(ctx), runID, status, summary); err != nil {
			log.Error("deadonfilm: record run completion failed", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	return printJSON(cmd.OutOrStdout(), summary)
}

// loadSubjects returns pending subjects, or retryable dead-lettered ones
// with --retry-dlq.
func loadSubjects(ctx context.Context, st store.Store, opts enrichOptions) ([]model.Subject, error) {
	if !opts.retryDLQ {
		subjects, err := st.ListPendingSubjects(ctx, opts.limit)
		return subjects, eris.Wrap(err, "load pending subjects")
	}

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "load dead letter queue")
	}
	var subjects []model.Subject
	for _, e := range entries {
		if !e.CanRetry() {
			continue
		}
		subjects = append(subjects, e.Subject)
		if opts.limit > 0 && len(subjects) >= opts.limit {
			break
		}
	}
	return subjects, nil
}

func runStatus(summary *model.RunSummary, err error) model.RunStatus {
	switch {
	case err != nil:
		return model.RunStatusFailed
	case summary != nil && summary.Cancelled:
		return model.RunStatusCancelled
	default:
		return model.RunStatusComplete
	}
}
