package source

import (
	"github.com/chenders/deadonfilm-sub014/internal/cost"
	"github.com/chenders/deadonfilm-sub014/internal/fetch"
	"github.com/chenders/deadonfilm-sub014/pkg/anthropic"
	"github.com/chenders/deadonfilm-sub014/pkg/chronicling"
	"github.com/chenders/deadonfilm-sub014/pkg/gemini"
	"github.com/chenders/deadonfilm-sub014/pkg/google"
	"github.com/chenders/deadonfilm-sub014/pkg/jina"
	"github.com/chenders/deadonfilm-sub014/pkg/perplexity"
	"github.com/chenders/deadonfilm-sub014/pkg/wikidata"
	"github.com/chenders/deadonfilm-sub014/pkg/wikipedia"
)

// Deps are the clients the built-in adapters need. A nil client leaves its
// adapter registered but unavailable.
type Deps struct {
	Fetcher     fetch.Fetcher
	Calc        *cost.Calculator
	Wikidata    wikidata.Client
	Wikipedia   wikipedia.Client
	Chronicling chronicling.Client
	Google      google.Client
	Jina        jina.Client
	Perplexity  perplexity.Client
	Anthropic   anthropic.Client
	ClaudeModel string
	Gemini      gemini.Client
	GeminiModel string
}

// Catalogue builds the registry of every built-in adapter.
func Catalogue(d Deps) *Registry {
	calc := d.Calc
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	r := NewRegistry(
		NewWikidata(d.Wikidata),
		NewWikipedia(d.Wikipedia),
		NewChronicling(d.Chronicling),
		NewDuckDuckGo(d.Fetcher),
		NewGoogleSearch(d.Google, d.Fetcher, calc),
		NewJinaSearch(d.Jina, calc),
		NewPerplexity(d.Perplexity, calc),
		NewClaude(d.Anthropic, d.ClaudeModel, calc),
		NewGemini(d.Gemini, d.GeminiModel, calc),
	)
	for _, site := range NewsSites {
		r.Register(NewNews(site, d.Fetcher))
	}
	return r
}
