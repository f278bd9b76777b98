// Package resilience provides retry, circuit breaking and error
// classification for calls to external sources.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen allows a single probe call.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a source is rejected by its breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures
	// before the circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default: 5m.
	ResetTimeout time.Duration

	// OnStateChange is called when a breaker transitions between states.
	OnStateChange func(source model.SourceType, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults for a batch run.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     5 * time.Minute,
	}
}

// Trips reports whether a failure of this kind should count against a
// source's breaker. Definitive answers, blocks and rate limits describe the
// subject or the source's policy, not the source's health.
func Trips(kind model.ErrorKind) bool {
	return kind == model.ErrorUnexpected || kind == model.ErrorTransient
}

// CircuitBreaker tracks the health of one source across subjects.
type CircuitBreaker struct {
	source model.SourceType
	cfg    CircuitBreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	now                 func() time.Time
}

// NewCircuitBreaker creates a breaker for a source.
func NewCircuitBreaker(source model.SourceType, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 5 * time.Minute
	}
	return &CircuitBreaker{source: source, cfg: cfg, now: time.Now}
}

// Allow returns ErrCircuitOpen while the breaker is open. Once the reset
// timeout has passed it moves to half-open and admits a probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.transition(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

// Record feeds the outcome of one call into the breaker.
func (cb *CircuitBreaker) Record(kind model.ErrorKind) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !Trips(kind) {
		cb.consecutiveFailures = 0
		if cb.state == CircuitHalfOpen {
			cb.transition(CircuitClosed)
		}
		return
	}

	cb.consecutiveFailures++
	switch {
	case cb.state == CircuitHalfOpen:
		cb.openedAt = cb.now()
		cb.transition(CircuitOpen)
	case cb.state == CircuitClosed && cb.consecutiveFailures >= cb.cfg.FailureThreshold:
		cb.openedAt = cb.now()
		cb.transition(CircuitOpen)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil && from != to {
		cb.cfg.OnStateChange(cb.source, from, to)
	}
}

// SourceBreakers holds one breaker per source, created on first use.
type SourceBreakers struct {
	mu       sync.RWMutex
	breakers map[model.SourceType]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewSourceBreakers creates an empty breaker registry.
func NewSourceBreakers(cfg CircuitBreakerConfig) *SourceBreakers {
	return &SourceBreakers{
		breakers: make(map[model.SourceType]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for a source.
func (sb *SourceBreakers) Get(source model.SourceType) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[source]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[source]; ok {
		return cb
	}
	cb = NewCircuitBreaker(source, sb.cfg)
	sb.breakers[source] = cb
	return cb
}

// States returns a snapshot of all breaker states.
func (sb *SourceBreakers) States() map[model.SourceType]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[model.SourceType]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.State()
	}
	return states
}
