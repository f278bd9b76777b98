package main

import (
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/internal/metrics"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
	"github.com/chenders/deadonfilm-sub014/internal/waterfall"
)

var lookupOpts struct {
	name        string
	imdbID      string
	birth       string
	death       string
	maxCost     float64
	ignoreCache bool
	tiers       tierFlags
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Run the scheduler for one ad-hoc subject and print the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		subject, err := adHocSubject(lookupOpts.name, lookupOpts.imdbID, lookupOpts.birth, lookupOpts.death)
		if err != nil {
			return err
		}

		env, err := initEnrich(ctx, cfg, lookupOpts.tiers)
		if err != nil {
			return err
		}
		defer env.Close()

		limits := cfg.Budget
		if lookupOpts.maxCost >= 0 {
			limits.MaxSubjectCost = lookupOpts.maxCost
		}
		limits.FreeOnly = !lookupOpts.tiers.paid && !lookupOpts.tiers.ai

		rc := &waterfall.RunContext{
			Log:         zap.L(),
			Cache:       env.Cache,
			Governor:    budget.NewGovernor(limits, zap.L()),
			IgnoreCache: lookupOpts.ignoreCache,
			Metrics:     metrics.New(),
			Breakers:    resilience.NewSourceBreakers(cfg.Batch.Breaker.Config()),
		}
		out, err := env.Executor.Run(ctx, rc, subject)
		if out != nil {
			if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	f := lookupCmd.Flags()
	f.StringVar(&lookupOpts.name, "name", "", "full name of the person (required)")
	f.StringVar(&lookupOpts.imdbID, "imdb-id", "", "IMDb nconst, used as the subject id when set")
	f.StringVar(&lookupOpts.birth, "birth", "", "birth date as YYYY, YYYY-MM or YYYY-MM-DD")
	f.StringVar(&lookupOpts.death, "death", "", "death date as YYYY, YYYY-MM or YYYY-MM-DD (required)")
	f.Float64Var(&lookupOpts.maxCost, "max-cost", -1, "spend ceiling in USD (-1 = budget.max_subject_cost)")
	f.BoolVar(&lookupOpts.ignoreCache, "ignore-cache", false, "skip cache reads")
	f.BoolVar(&lookupOpts.tiers.free, "free", true, "enable the free tiers")
	f.BoolVar(&lookupOpts.tiers.paid, "paid", false, "enable the paid search tier")
	f.BoolVar(&lookupOpts.tiers.ai, "ai", false, "enable the AI tier")
	_ = lookupCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(lookupCmd)
}

// adHocSubject builds a subject from lookup flags. Without an IMDb id the
// subject id is derived from the name so the cache still dedupes repeats.
func adHocSubject(name, imdbID, birth, death string) (model.Subject, error) {
	b, err := model.ParsePartialDate(birth)
	if err != nil {
		return model.Subject{}, eris.Wrap(err, "--birth")
	}
	d, err := model.ParsePartialDate(death)
	if err != nil {
		return model.Subject{}, eris.Wrap(err, "--death")
	}
	id := imdbID
	if id == "" {
		id = "adhoc:" + strings.Join(strings.Fields(strings.ToLower(name)), "-")
	}
	return model.Subject{
		ID:     id,
		IMDbID: imdbID,
		Name:   strings.TrimSpace(name),
		Birth:  b,
		Death:  d,
	}, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
