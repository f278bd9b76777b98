package main

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/cache"
	"github.com/chenders/deadonfilm-sub014/internal/config"
	"github.com/chenders/deadonfilm-sub014/internal/cost"
	"github.com/chenders/deadonfilm-sub014/internal/fetch"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/source"
	"github.com/chenders/deadonfilm-sub014/internal/store"
	"github.com/chenders/deadonfilm-sub014/internal/waterfall"
	anthropicpkg "github.com/chenders/deadonfilm-sub014/pkg/anthropic"
	"github.com/chenders/deadonfilm-sub014/pkg/captcha"
	"github.com/chenders/deadonfilm-sub014/pkg/chronicling"
	"github.com/chenders/deadonfilm-sub014/pkg/gemini"
	"github.com/chenders/deadonfilm-sub014/pkg/google"
	"github.com/chenders/deadonfilm-sub014/pkg/jina"
	"github.com/chenders/deadonfilm-sub014/pkg/perplexity"
	"github.com/chenders/deadonfilm-sub014/pkg/wayback"
	"github.com/chenders/deadonfilm-sub014/pkg/wikidata"
	"github.com/chenders/deadonfilm-sub014/pkg/wikipedia"
)

// botUserAgent identifies API traffic to Wikimedia, which asks for contact
// details in the user agent.
const botUserAgent = "deadonfilm/1.0 (https://deadonfilm.com; enrichment bot)"

// tierFlags holds the --free/--paid/--ai switches shared by enrich and lookup.
type tierFlags struct {
	free, paid, ai bool
}

// allowed maps the switches onto scheduling tiers.
func (f tierFlags) allowed() map[model.Tier]bool {
	return map[model.Tier]bool{
		model.TierFreeStructured: f.free,
		model.TierFreeWeb:        f.free,
		model.TierFreeNews:       f.free,
		model.TierPaid:           f.paid,
		model.TierAI:             f.ai,
	}
}

// enrichEnv holds everything a scheduler run needs. Callers should defer
// Close.
type enrichEnv struct {
	Waterfall *waterfall.Config
	Registry  *source.Registry
	Executor  *waterfall.Executor
	Cache     cache.Store
	Tiers     []model.Tier

	closers []func() error
}

// Close releases the cache and any browser.
func (e *enrichEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("deadonfilm: close failed", zap.Error(err))
		}
	}
}

// initEnrich loads the tier configuration, validates credentials for the
// selected tiers, opens the cache and builds the source registry.
func initEnrich(ctx context.Context, c *config.Config, flags tierFlags) (*enrichEnv, error) {
	wcfg, err := loadWaterfall(c.Waterfall.ConfigPath)
	if err != nil {
		return nil, err
	}
	tiers := wcfg.EnabledTiers(flags.allowed())
	if len(tiers) == 0 {
		return nil, eris.New("no tiers enabled: check --free/--paid/--ai and waterfall.tiers")
	}
	if err := c.Validate(tiers); err != nil {
		return nil, err
	}

	env := &enrichEnv{Waterfall: wcfg, Tiers: tiers}

	cs, err := cache.Open(ctx, c.Cache.Driver, c.Cache.Path, c.Cache.TTL())
	if err != nil {
		return nil, err
	}
	env.Cache = cs
	env.closers = append(env.closers, cs.Close)

	reg, closeBrowser, err := buildRegistry(ctx, c, zap.L())
	if err != nil {
		env.Close()
		return nil, err
	}
	if closeBrowser != nil {
		env.closers = append(env.closers, closeBrowser)
	}
	if err := reg.Configure(wcfg.Sources); err != nil {
		env.Close()
		return nil, err
	}
	env.Registry = reg
	env.Executor = waterfall.NewExecutor(wcfg, reg, tiers)

	zap.L().Info("deadonfilm: scheduler ready",
		zap.Stringers("tiers", tiers),
		zap.Int("sources", len(reg.List())),
		zap.Float64("threshold", wcfg.Defaults.ConfidenceThreshold),
	)
	return env, nil
}

// loadWaterfall reads the tier file, falling back to built-in defaults when
// it does not exist.
func loadWaterfall(path string) (*waterfall.Config, error) {
	wcfg, err := waterfall.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("deadonfilm: waterfall config not found, using defaults", zap.String("path", path))
		return waterfall.DefaultConfigValues(), nil
	}
	return wcfg, err
}

// buildRegistry wires the fetch chain and API clients into the source
// catalogue. The returned close func is non-nil when a browser pool exists.
func buildRegistry(ctx context.Context, c *config.Config, log *zap.Logger) (*source.Registry, func() error, error) {
	calc := cost.NewCalculator(c.Pricing)

	direct := fetch.NewDirectFetcher(fetch.DirectOptions{
		UserAgent: c.Fetch.UserAgent,
		Timeout:   time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		MaxBody:   c.Fetch.MaxBodyBytes,
		Retry:     c.Fetch.Retry.Policy(),
	})

	chainOpts := []fetch.ChainOption{fetch.WithChainLogger(log)}
	if c.Archive.Enabled {
		wb := wayback.NewClient(wayback.WithBaseURL(c.Archive.BaseURL))
		chainOpts = append(chainOpts, fetch.WithArchive(fetch.NewArchiveFetcher(wb, direct)))
	}

	var closeBrowser func() error
	if c.Browser.Enabled {
		var solver fetch.Solver
		if c.Captcha.APIKey != "" {
			solver = fetch.NewBoundedSolver(
				captcha.NewClient(c.Captcha.APIKey, captcha.WithBaseURL(c.Captcha.BaseURL)),
				time.Duration(c.Captcha.TimeoutSecs)*time.Second,
				calc.CaptchaSolve(),
				c.Captcha.MaxCostPerSolve,
				log,
			)
		}
		pool := fetch.NewBrowserPool(fetch.BrowserOptions{
			Bin:            c.Browser.Bin,
			Headless:       c.Browser.Headless,
			MaxPages:       c.Browser.PoolSize,
			UserAgent:      c.Fetch.UserAgent,
			NavTimeout:     time.Duration(c.Browser.NavTimeoutSecs) * time.Second,
			ViewportWidth:  c.Browser.ViewportWidth,
			ViewportHeight: c.Browser.ViewportHeight,
		}, solver, log)
		chainOpts = append(chainOpts, fetch.WithBrowser(pool))
		closeBrowser = pool.Close
	}

	deps := source.Deps{
		Fetcher:     fetch.NewChain(direct, chainOpts...),
		Calc:        calc,
		Wikidata:    wikidata.NewClient(botUserAgent),
		Wikipedia:   wikipedia.NewClient(botUserAgent),
		Chronicling: chronicling.NewClient(),
		ClaudeModel: c.Anthropic.Model,
		GeminiModel: c.Gemini.Model,
	}
	if c.Google.Key != "" && c.Google.CX != "" {
		deps.Google = google.NewClient(c.Google.Key, c.Google.CX, google.WithBaseURL(c.Google.BaseURL))
	}
	if c.Jina.Key != "" {
		deps.Jina = jina.NewClient(c.Jina.Key, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
	}
	if c.Perplexity.Key != "" {
		deps.Perplexity = perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
		)
	}
	if c.Anthropic.Key != "" {
		deps.Anthropic = anthropicpkg.NewClient(c.Anthropic.Key)
	}
	if c.Gemini.Key != "" {
		gc, err := gemini.NewClient(ctx, c.Gemini.Key)
		if err != nil {
			if closeBrowser != nil {
				_ = closeBrowser()
			}
			return nil, nil, eris.Wrap(err, "init gemini client")
		}
		deps.Gemini = gc
	}
	return source.Catalogue(deps), closeBrowser, nil
}

// openStore connects to the configured subject store.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	return store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	})
}
