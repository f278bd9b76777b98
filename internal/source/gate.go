package source

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// rateLimitFloor is the interval used after a 429 when the adapter had
	// no configured delay.
	rateLimitFloor = time.Second
	// maxGateInterval caps how slow a gate can become.
	maxGateInterval = 2 * time.Minute
)

// Gate enforces a minimum delay between physical requests of one adapter.
// A rate limit signal widens the interval for the rest of the run.
type Gate struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
}

// NewGate creates a gate allowing one request per minDelay.
func NewGate(minDelay time.Duration) *Gate {
	lim := rate.Inf
	if minDelay > 0 {
		lim = rate.Every(minDelay)
	}
	return &Gate{limiter: rate.NewLimiter(lim, 1), interval: minDelay}
}

// Wait blocks until the next request may be sent.
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// OnRateLimit doubles the interval, or raises it to retryAfter when that is
// longer.
func (g *Gate) OnRateLimit(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.interval * 2
	if next < rateLimitFloor {
		next = rateLimitFloor
	}
	if retryAfter > next {
		next = retryAfter
	}
	if next > maxGateInterval {
		next = maxGateInterval
	}
	g.interval = next
	g.limiter.SetLimit(rate.Every(next))
	zap.L().Warn("source: widening delay gate after rate limit",
		zap.Duration("interval", next),
	)
}

// Interval returns the current minimum delay.
func (g *Gate) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}
