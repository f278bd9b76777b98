// Package cost prices calls to paid sources. Rates are USD.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic    map[string]TokenRate `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini       map[string]TokenRate `yaml:"gemini" mapstructure:"gemini"`
	Jina         JinaRate             `yaml:"jina" mapstructure:"jina"`
	Perplexity   PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
	GoogleSearch GoogleSearchRate     `yaml:"google_search" mapstructure:"google_search"`
	Captcha      CaptchaRate          `yaml:"captcha" mapstructure:"captcha"`
}

// TokenRate holds per-model token pricing (per million tokens).
type TokenRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// JinaRate holds Jina search pricing.
type JinaRate struct {
	PerMTok        float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
	TokensPerQuery int     `yaml:"tokens_per_query" mapstructure:"tokens_per_query"`
}

// PerplexityRate holds Perplexity pricing: a request fee plus tokens.
type PerplexityRate struct {
	PerQuery float64   `yaml:"per_query" mapstructure:"per_query"`
	Tokens   TokenRate `yaml:"tokens" mapstructure:"tokens"`
}

// GoogleSearchRate holds Custom Search JSON API pricing.
type GoogleSearchRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// CaptchaRate holds the solver price per challenge.
type CaptchaRate struct {
	PerSolve float64 `yaml:"per_solve" mapstructure:"per_solve"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the configured rates.
func (c *Calculator) Rates() Rates {
	return c.rates
}

func tokenCost(rate TokenRate, input, output int64) float64 {
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Claude computes the cost of a Claude call. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return tokenCost(rate, input, output)
}

// Gemini computes the cost of a Gemini call. Unknown models cost 0.
func (c *Calculator) Gemini(model string, input, output int64) float64 {
	rate, ok := c.rates.Gemini[model]
	if !ok {
		return 0
	}
	return tokenCost(rate, input, output)
}

// Perplexity computes the cost of one chat completion.
func (c *Calculator) Perplexity(input, output int64) float64 {
	return c.rates.Perplexity.PerQuery + tokenCost(c.rates.Perplexity.Tokens, input, output)
}

// Jina computes the cost for Jina token usage.
func (c *Calculator) Jina(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Jina.PerMTok
}

// GoogleQuery returns the flat cost per Custom Search query.
func (c *Calculator) GoogleQuery() float64 {
	return c.rates.GoogleSearch.PerQuery
}

// CaptchaSolve returns the flat cost per solved challenge.
func (c *Calculator) CaptchaSolve() float64 {
	return c.rates.Captcha.PerSolve
}

// Worst-case estimates used to reserve budget before a call. Prompt sizes
// are bounded by the adapters; output is bounded by max tokens.

// ClaudeCeiling returns the most a Claude call can cost.
func (c *Calculator) ClaudeCeiling(model string, promptTokens, maxTokens int64) float64 {
	return c.Claude(model, promptTokens, maxTokens)
}

// GeminiCeiling returns the most a Gemini call can cost.
func (c *Calculator) GeminiCeiling(model string, promptTokens, maxTokens int64) float64 {
	return c.Gemini(model, promptTokens, maxTokens)
}

// PerplexityCeiling returns the most a Perplexity call can cost.
func (c *Calculator) PerplexityCeiling(promptTokens, maxTokens int64) float64 {
	return c.Perplexity(promptTokens, maxTokens)
}

// JinaTokenBudget returns the token cap sent with every Jina search.
func (c *Calculator) JinaTokenBudget() int {
	return c.rates.Jina.TokensPerQuery
}

// JinaCeiling returns the most one Jina search can cost. It holds because
// searches are sent with JinaTokenBudget as their token cap.
func (c *Calculator) JinaCeiling() float64 {
	return c.Jina(c.JinaTokenBudget())
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]TokenRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Gemini: map[string]TokenRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		},
		Jina:         JinaRate{PerMTok: 0.02, TokensPerQuery: 10000},
		Perplexity:   PerplexityRate{PerQuery: 0.006, Tokens: TokenRate{Input: 3.00, Output: 15.00}},
		GoogleSearch: GoogleSearchRate{PerQuery: 0.005},
		Captcha:      CaptchaRate{PerSolve: 0.003},
	}
}
