package source

import (
	"context"
	"time"

	"github.com/chenders/deadonfilm-sub014/internal/fetch"
	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// DuckDuckGo reads cause-of-death phrasing from web search snippets.
type DuckDuckGo struct {
	base
	fetcher fetch.Fetcher
	baseURL string
}

// NewDuckDuckGo creates the duckduckgo adapter. Requests go through f,
// normally a fetch.Chain.
func NewDuckDuckGo(f fetch.Fetcher) *DuckDuckGo {
	return &DuckDuckGo{
		base: newBase(Descriptor{
			Type:        TypeDuckDuckGo,
			Name:        "DuckDuckGo",
			Tier:        model.TierFreeWeb,
			Reliability: model.ReliabilitySearchAggregator,
			MinDelay:    2 * time.Second,
			Priority:    10,
		}),
		fetcher: f,
		baseURL: duckDuckGoHTML,
	}
}

// Available reports whether a page fetcher is set.
func (d *DuckDuckGo) Available() bool { return d.fetcher != nil }

// Lookup extracts death details from DuckDuckGo result snippets.
func (d *DuckDuckGo) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	if err := d.gate.Wait(ctx); err != nil {
		return nil, err
	}
	hits, page, err := webSearch(ctx, d.fetcher, d.baseURL, deathQuery(subject))
	if err != nil {
		return nil, d.observe(err)
	}

	text, firstURL := snippetText(hits, subject)
	if text == "" {
		return d.notFound("no results mention the subject"), nil
	}
	ex := Extract(text, subject)
	e := d.entry(firstURL, Score(0.4, ex))
	e.Stage = page.Stage
	return d.found(e, ex.Data, 0), nil
}
