package source

import (
	"context"
	"strings"

	"github.com/chenders/deadonfilm-sub014/internal/cost"
	"github.com/chenders/deadonfilm-sub014/internal/fetch"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/pkg/google"
	"github.com/chenders/deadonfilm-sub014/pkg/jina"
)

// GoogleSearch reads search snippets from the Custom Search API and, when a
// fetcher is set, the top matching article.
type GoogleSearch struct {
	base
	client  google.Client
	fetcher fetch.Fetcher
	calc    *cost.Calculator
}

// NewGoogleSearch creates the google_search adapter. client is nil when the
// API key or engine ID is missing.
func NewGoogleSearch(client google.Client, f fetch.Fetcher, calc *cost.Calculator) *GoogleSearch {
	return &GoogleSearch{
		base: newBase(Descriptor{
			Type:        TypeGoogleSearch,
			Name:        "Google Custom Search",
			Tier:        model.TierPaid,
			Reliability: model.ReliabilitySearchAggregator,
			Cost:        calc.GoogleQuery(),
			Priority:    10,
		}),
		client:  client,
		fetcher: f,
		calc:    calc,
	}
}

// Available reports whether Google Custom Search credentials were configured.
func (g *GoogleSearch) Available() bool { return g.client != nil }

// Lookup runs one Custom Search query and reads the top matching result.
func (g *GoogleSearch) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	if err := g.gate.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.client.Search(ctx, deathQuery(subject), 10)
	if err != nil {
		return nil, g.observe(err)
	}
	charged := g.calc.GoogleQuery()

	hits := make([]searchHit, 0, len(resp.Items))
	for _, it := range resp.Items {
		hits = append(hits, searchHit{Title: it.Title, URL: it.Link, Snippet: it.Snippet})
	}
	text, firstURL := snippetText(hits, subject)
	if text == "" {
		r := g.notFound("no results mention the subject")
		r.Cost = charged
		return r, nil
	}

	// Snippets are truncated; the article itself is free to read.
	stage := model.FetchStage("")
	if g.fetcher != nil && firstURL != "" {
		if page, err := g.fetcher.Fetch(ctx, firstURL); err == nil {
			if body := page.ArticleText(); MentionsSubject(body, subject) {
				text = text + " " + body
				stage = page.Stage
			}
		}
	}

	ex := Extract(text, subject)
	e := g.entry(firstURL, Score(0.5, ex))
	e.Stage = stage
	return g.found(e, ex.Data, charged), nil
}

// JinaSearch reads full result pages returned by Jina search.
type JinaSearch struct {
	base
	client jina.Client
	calc   *cost.Calculator
}

// NewJinaSearch creates the jina_search adapter. client is nil when the API
// key is missing.
func NewJinaSearch(client jina.Client, calc *cost.Calculator) *JinaSearch {
	return &JinaSearch{
		base: newBase(Descriptor{
			Type:        TypeJinaSearch,
			Name:        "Jina Search",
			Tier:        model.TierPaid,
			Reliability: model.ReliabilitySearchAggregator,
			Cost:        calc.JinaCeiling(),
			Priority:    20,
		}),
		client: client,
		calc:   calc,
	}
}

// Available reports whether a Jina API key was configured.
func (j *JinaSearch) Available() bool { return j.client != nil }

// Lookup runs one token-capped Jina search and extracts from the pages that name the subject.
func (j *JinaSearch) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	if err := j.gate.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := j.client.Search(ctx, deathQuery(subject), jina.WithTokenBudget(j.calc.JinaTokenBudget()))
	if err != nil {
		return nil, j.observe(err)
	}
	charged := j.calc.Jina(int(resp.Tokens()))

	var parts []string
	firstURL := ""
	for _, d := range resp.Data {
		if !MentionsSubject(d.Title+" "+d.Content, subject) {
			continue
		}
		if firstURL == "" {
			firstURL = d.URL
		}
		parts = append(parts, d.Content)
	}
	if len(parts) == 0 {
		r := j.notFound("no results mention the subject")
		r.Cost = charged
		return r, nil
	}

	ex := Extract(strings.Join(parts, "\n"), subject)
	return j.found(j.entry(firstURL, Score(0.55, ex)), ex.Data, charged), nil
}
