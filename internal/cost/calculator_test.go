package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]TokenRate{
			"haiku":  {Input: 1.00, Output: 5.00},
			"sonnet": {Input: 3.00, Output: 15.00},
		},
		Gemini: map[string]TokenRate{
			"flash": {Input: 0.30, Output: 2.50},
		},
		Jina:         JinaRate{PerMTok: 0.02, TokensPerQuery: 10000},
		Perplexity:   PerplexityRate{PerQuery: 0.005, Tokens: TokenRate{Input: 1, Output: 1}},
		GoogleSearch: GoogleSearchRate{PerQuery: 0.005},
		Captcha:      CaptchaRate{PerSolve: 0.003},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		want   float64
	}{
		{name: "haiku", model: "haiku", input: 1000000, output: 100000, want: 1.00 + 0.50},
		{name: "sonnet", model: "sonnet", input: 2000, output: 500, want: 0.006 + 0.0075},
		{name: "unknown model", model: "gpt", input: 1000, output: 1000, want: 0},
		{name: "zero tokens", model: "haiku", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestGemini(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.30+0.25, calc.Gemini("flash", 1000000, 100000), 1e-9)
	assert.Equal(t, 0.0, calc.Gemini("ultra", 10, 10))
}

func TestFlatRates(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.005+0.000002, calc.Perplexity(1, 1), 1e-9)
	assert.InDelta(t, 0.0002, calc.Jina(10000), 1e-9)
	assert.InDelta(t, 0.0002, calc.JinaCeiling(), 1e-9)
	assert.Equal(t, 10000, calc.JinaTokenBudget())
	assert.InDelta(t, 0.005, calc.GoogleQuery(), 1e-9)
	assert.InDelta(t, 0.003, calc.CaptchaSolve(), 1e-9)
}

func TestCeilingsBoundActualCost(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	ceiling := calc.ClaudeCeiling("haiku", 3000, 1024)
	assert.GreaterOrEqual(t, ceiling, calc.Claude("haiku", 2500, 800))
	assert.GreaterOrEqual(t, calc.GeminiCeiling("flash", 3000, 1024), calc.Gemini("flash", 3000, 1024))
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	assert.Contains(t, r.Anthropic, "claude-haiku-4-5-20251001")
	assert.Contains(t, r.Gemini, "gemini-2.5-flash")
	assert.Greater(t, r.GoogleSearch.PerQuery, 0.0)
}
