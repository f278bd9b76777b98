// Package source defines the adapter contract for external cause-of-death
// sources and the concrete adapters.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

// Descriptor is the static metadata of an adapter.
type Descriptor struct {
	Type        model.SourceType
	Name        string
	Tier        model.Tier
	Reliability model.Reliability

	// Cost is the most a single lookup can cost in USD. The governor
	// reserves this amount before the call.
	Cost float64

	// MinDelay is the minimum gap between physical requests.
	MinDelay time.Duration

	// Priority orders sources within a tier, lowest first.
	Priority int
}

// IsFree reports whether lookups carry no cost.
func (d Descriptor) IsFree() bool {
	return d.Cost <= 0
}

// Source is one external provider of cause-of-death data.
//
// Lookup returns a result with Success=false and Error=ErrorNotFound when the
// source was reached but knows nothing. It returns a
// *resilience.AccessBlockedError when the source answered with a block,
// paywall or CAPTCHA, and a *resilience.RateLimitedError when throttled.
// Adapters hold no cache and charge nothing; see cache.Layer.
type Source interface {
	Descriptor() Descriptor
	Available() bool
	Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error)
}

// base carries the pieces shared by every adapter.
type base struct {
	desc Descriptor
	gate *Gate
	now  func() time.Time
}

func newBase(desc Descriptor) base {
	return base{desc: desc, gate: NewGate(desc.MinDelay), now: time.Now}
}

func (b *base) Descriptor() Descriptor { return b.desc }

// Gate exposes the adapter's delay gate.
func (b *base) Gate() *Gate { return b.gate }

// entry builds a SourceEntry stamped with the adapter's identity.
func (b *base) entry(url string, confidence float64) model.SourceEntry {
	return model.SourceEntry{
		Type:        b.desc.Type,
		URL:         url,
		Confidence:  confidence,
		Reliability: b.desc.Reliability,
		RetrievedAt: b.now().UTC(),
	}
}

func (b *base) notFound(msg string) *model.LookupResult {
	return model.NotFound(b.desc.Type, msg)
}

// found builds a successful result, or NotFound when data is empty.
func (b *base) found(e model.SourceEntry, data *model.DeathData, cost float64) *model.LookupResult {
	if data.Empty() {
		r := b.notFound("no death information in response")
		r.Cost = cost
		return r
	}
	return &model.LookupResult{Success: true, Source: e, Data: data, Cost: cost}
}

// observe widens the delay gate when err is a rate limit. It returns err.
func (b *base) observe(err error) error {
	var rl *resilience.RateLimitedError
	if errors.As(err, &rl) {
		b.gate.OnRateLimit(rl.RetryAfter)
	}
	return err
}

// Override adjusts an adapter from configuration. Zero fields keep the
// built-in value.
type Override struct {
	Disabled bool          `yaml:"disabled" mapstructure:"disabled"`
	MinDelay time.Duration `yaml:"min_delay" mapstructure:"min_delay"`
	Priority int           `yaml:"priority" mapstructure:"priority"`
}

type configurable interface {
	apply(o Override)
}

func (b *base) apply(o Override) {
	if o.MinDelay > 0 {
		b.desc.MinDelay = o.MinDelay
		b.gate = NewGate(o.MinDelay)
	}
	if o.Priority != 0 {
		b.desc.Priority = o.Priority
	}
}
