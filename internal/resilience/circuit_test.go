package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

func TestCircuitBreakerOpensOnUnexpectedFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []CircuitState
	cb := NewCircuitBreaker("wikidata", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(_ model.SourceType, _, to CircuitState) {
			transitions = append(transitions, to)
		},
	})
	cb.now = func() time.Time { return now }

	cb.Record(model.ErrorUnexpected)
	require.NoError(t, cb.Allow())
	cb.Record(model.ErrorTransient)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.Record(model.ErrorNone)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, transitions)
}

func TestCircuitBreakerIgnoresDefinitiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("guardian", CircuitBreakerConfig{FailureThreshold: 1})
	cb.Record(model.ErrorNotFound)
	cb.Record(model.ErrorAccessBlocked)
	cb.Record(model.ErrorRateLimited)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("claude", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }
	cb.Record(model.ErrorUnexpected)
	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Allow())
	cb.Record(model.ErrorUnexpected)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestSourceBreakersGet(t *testing.T) {
	sb := NewSourceBreakers(DefaultCircuitBreakerConfig())
	a := sb.Get("wikidata")
	assert.Same(t, a, sb.Get("wikidata"))
	assert.NotSame(t, a, sb.Get("wikipedia"))
	assert.Len(t, sb.States(), 2)
}
