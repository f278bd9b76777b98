package fetch

import (
	"context"

	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

// Chain fetches a URL directly and falls back to an archive snapshot and
// then a browser render when the direct request is blocked. Each stage runs
// at most once per call.
type Chain struct {
	direct  Fetcher
	archive Fetcher
	browser Fetcher
	log     *zap.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithArchive enables the archive stage.
func WithArchive(f Fetcher) ChainOption {
	return func(c *Chain) { c.archive = f }
}

// WithBrowser enables the browser stage.
func WithBrowser(f Fetcher) ChainOption {
	return func(c *Chain) { c.browser = f }
}

// WithChainLogger sets the logger used for fallback decisions.
func WithChainLogger(log *zap.Logger) ChainOption {
	return func(c *Chain) { c.log = log }
}

// NewChain creates a Chain around a direct fetcher.
func NewChain(direct Fetcher, opts ...ChainOption) *Chain {
	c := &Chain{direct: direct, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch implements Fetcher.
func (c *Chain) Fetch(ctx context.Context, url string) (*Page, error) {
	page, _, err := c.FetchTraced(ctx, url)
	return page, err
}

// FetchTraced is Fetch that also reports which stages ran, in order. When
// every fallback fails the original block error is returned.
func (c *Chain) FetchTraced(ctx context.Context, url string) (*Page, []model.FetchStage, error) {
	stages := []model.FetchStage{model.StageDirect}
	page, err := c.direct.Fetch(ctx, url)
	if err == nil {
		return page, stages, nil
	}
	if !resilience.IsAccessBlocked(err) {
		return nil, stages, err
	}
	blockErr := err

	fallbacks := []struct {
		stage   model.FetchStage
		fetcher Fetcher
	}{
		{model.StageArchive, c.archive},
		{model.StageBrowser, c.browser},
	}
	for _, fb := range fallbacks {
		if fb.fetcher == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, stages, ctx.Err()
		}
		stages = append(stages, fb.stage)
		page, err := fb.fetcher.Fetch(ctx, url)
		if err == nil {
			c.log.Debug("fetch: fallback succeeded",
				zap.String("url", url),
				zap.String("stage", string(fb.stage)),
				zap.Float64("solve_cost", page.SolveCost),
			)
			return page, stages, nil
		}
		c.log.Debug("fetch: fallback failed",
			zap.String("url", url),
			zap.String("stage", string(fb.stage)),
			zap.Error(err),
		)
	}
	return nil, stages, blockErr
}
