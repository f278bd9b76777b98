package source

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/chenders/deadonfilm-sub014/internal/cost"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/pkg/anthropic"
	"github.com/chenders/deadonfilm-sub014/pkg/gemini"
	"github.com/chenders/deadonfilm-sub014/pkg/perplexity"
)

// aiResult converts a model answer into a LookupResult. An unparseable
// answer is charged but reported as NotFound.
func aiResult(b *base, text string, citations []string, charged float64) *model.LookupResult {
	ans, err := parseAIAnswer(text)
	if err != nil {
		r := b.notFound(err.Error())
		r.Cost = charged
		return r
	}
	e := b.entry(firstURL(ans.Sources, citations), ans.score())
	if raw, err := json.Marshal(ans); err == nil {
		e.Raw = string(raw)
	}
	return b.found(e, ans.data(), charged)
}

// perplexityDenyList keeps user-edited trivia sites out of retrieval.
var perplexityDenyList = []string{"-imdb.com", "-fandom.com", "-reddit.com"}

// Perplexity asks a web-grounded model with citations.
type Perplexity struct {
	base
	client perplexity.Client
	calc   *cost.Calculator
}

// NewPerplexity creates the perplexity adapter.
func NewPerplexity(client perplexity.Client, calc *cost.Calculator) *Perplexity {
	return &Perplexity{
		base: newBase(Descriptor{
			Type:        TypePerplexity,
			Name:        "Perplexity",
			Tier:        model.TierAI,
			Reliability: model.ReliabilitySearchAggregator,
			Cost:        calc.PerplexityCeiling(aiPromptTokens, aiMaxTokens),
			Priority:    10,
		}),
		client: client,
		calc:   calc,
	}
}

// Available reports whether a Perplexity API key was configured.
func (p *Perplexity) Available() bool { return p.client != nil }

// Lookup asks Perplexity online search how the subject died.
func (p *Perplexity) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	maxTokens := aiMaxTokens
	temp := 0.0
	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: aiSystemPrompt},
			{Role: "user", Content: aiUserPrompt(subject)},
		},
		Temperature:        &temp,
		MaxTokens:          &maxTokens,
		SearchDomainFilter: perplexityDenyList,
		WebSearchOptions:   &perplexity.WebSearchOptions{SearchContextSize: perplexity.ContextLow},
	})
	if err != nil {
		return nil, p.observe(err)
	}
	charged := p.calc.Perplexity(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return aiResult(&p.base, resp.Text(), resp.Sources(), charged), nil
}

// Claude asks an Anthropic model from its own knowledge.
type Claude struct {
	base
	client anthropic.Client
	model  string
	calc   *cost.Calculator
}

// NewClaude creates the claude adapter for modelID.
func NewClaude(client anthropic.Client, modelID string, calc *cost.Calculator) *Claude {
	return &Claude{
		base: newBase(Descriptor{
			Type:        TypeClaude,
			Name:        "Claude",
			Tier:        model.TierAI,
			Reliability: model.ReliabilityAIModel,
			Cost:        calc.ClaudeCeiling(modelID, aiPromptTokens, aiMaxTokens),
			Priority:    20,
		}),
		client: client,
		model:  modelID,
		calc:   calc,
	}
}

// Available reports whether an Anthropic API key was configured.
func (c *Claude) Available() bool { return c.client != nil }

// Lookup asks Claude how the subject died.
func (c *Claude) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}
	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   aiMaxTokens,
		System:      []anthropic.SystemBlock{{Text: aiSystemPrompt, Cached: true}},
		Messages:    []anthropic.Message{{Role: "user", Content: aiUserPrompt(subject)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, c.observe(err)
	}
	charged := c.calc.Claude(c.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return aiResult(&c.base, resp.Text(), nil, charged), nil
}

// Gemini asks a Gemini model grounded with Google Search.
type Gemini struct {
	base
	client gemini.Client
	model  string
	calc   *cost.Calculator
}

// NewGemini creates the gemini adapter for modelID.
func NewGemini(client gemini.Client, modelID string, calc *cost.Calculator) *Gemini {
	return &Gemini{
		base: newBase(Descriptor{
			Type:        TypeGemini,
			Name:        "Gemini",
			Tier:        model.TierAI,
			Reliability: model.ReliabilityAIModel,
			Cost:        calc.GeminiCeiling(modelID, aiPromptTokens, aiMaxTokens),
			Priority:    30,
		}),
		client: client,
		model:  modelID,
		calc:   calc,
	}
}

// Available reports whether a Gemini API key was configured.
func (g *Gemini) Available() bool { return g.client != nil }

// Lookup asks Gemini how the subject died.
func (g *Gemini) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	if err := g.gate.Wait(ctx); err != nil {
		return nil, err
	}
	var temp float32
	resp, err := g.client.Generate(ctx, gemini.Request{
		Model:       g.model,
		System:      aiSystemPrompt,
		Prompt:      aiUserPrompt(subject),
		MaxTokens:   aiMaxTokens,
		Temperature: &temp,
		Grounded:    true,
	})
	if err != nil {
		return nil, g.observe(err)
	}
	charged := g.calc.Gemini(g.model, resp.InputTokens, resp.OutputTokens)
	return aiResult(&g.base, resp.Text, resp.Sources, charged), nil
}
