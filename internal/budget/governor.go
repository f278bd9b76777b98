package budget

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// SubjectSpend is the ledger delta for one subject.
type SubjectSpend struct {
	Cost     float64 `json:"cost"`
	Attempts int     `json:"attempts"`
	Charges  int     `json:"charges"`
}

type account struct {
	spent    float64
	reserved float64
	attempts int
	charges  int
}

// Governor is the run ledger and the gate in front of every paid call.
// Reservations are taken under the same lock that reads the totals, so
// concurrent subjects can never jointly overshoot a ceiling.
type Governor struct {
	limits Limits
	log    *zap.Logger

	mu        sync.Mutex
	spent     float64
	reserved  float64
	subjects  map[string]*account
	exhausted bool
	warned    bool
}

// NewGovernor creates a governor for one run.
func NewGovernor(limits Limits, log *zap.Logger) *Governor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Governor{
		limits:   limits,
		log:      log,
		subjects: make(map[string]*account),
	}
}

// Limits returns the configured limits.
func (g *Governor) Limits() Limits {
	return g.limits
}

func (g *Governor) account(subjectID string) *account {
	a, ok := g.subjects[subjectID]
	if !ok {
		a = &account{}
		g.subjects[subjectID] = a
	}
	return a
}

// CanSpend reports whether estimatedCost could be reserved for the subject
// right now. It does not reserve anything.
func (g *Governor) CanSpend(estimatedCost float64, subjectID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.account(subjectID)
	return g.limits.check(subjectID, g.spent+g.reserved, a.spent+a.reserved, estimatedCost) == nil
}

// Permit checks whether estimatedCost fits every ceiling without holding
// anything. Unlike CanSpend it returns the *Violation and marks the run
// exhausted when the total ceiling refuses.
func (g *Governor) Permit(estimatedCost float64, subjectID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.account(subjectID)
	if v := g.limits.check(subjectID, g.spent+g.reserved, a.spent+a.reserved, estimatedCost); v != nil {
		if v.Ceiling == CeilingTotal {
			g.exhausted = true
		}
		return v
	}
	return nil
}

// Reserve atomically checks every ceiling and holds estimatedCost against
// them. The returned reservation must be settled with the actual cost.
// A refusal returns a *Violation wrapping ErrBudgetExceeded.
func (g *Governor) Reserve(estimatedCost float64, subjectID string) (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.account(subjectID)
	if v := g.limits.check(subjectID, g.spent+g.reserved, a.spent+a.reserved, estimatedCost); v != nil {
		if v.Ceiling == CeilingTotal {
			g.exhausted = true
		}
		g.log.Info("budget: spend refused",
			zap.String("subject_id", subjectID),
			zap.String("ceiling", string(v.Ceiling)),
			zap.Float64("requested", estimatedCost),
			zap.Float64("limit", v.Limit),
		)
		return nil, v
	}
	if estimatedCost > 0 {
		g.reserved += estimatedCost
		a.reserved += estimatedCost
	}
	return &Reservation{g: g, subjectID: subjectID, amount: estimatedCost}, nil
}

func (g *Governor) chargeLocked(cost float64, a *account) {
	g.spent += cost
	a.spent += cost
	a.charges++
	if !g.warned && g.limits.MaxTotalCost > 0 && g.limits.WarningThreshold > 0 &&
		g.spent >= g.limits.MaxTotalCost*g.limits.WarningThreshold {
		g.warned = true
		g.log.Warn("budget: spend approaching ceiling",
			zap.Float64("spent", g.spent),
			zap.Float64("limit", g.limits.MaxTotalCost),
		)
	}
}

// RecordAttempt counts a source attempt against the subject.
func (g *Governor) RecordAttempt(subjectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account(subjectID).attempts++
}

// Total returns the amount charged so far this run.
func (g *Governor) Total() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}

// Subject returns the ledger delta for one subject.
func (g *Governor) Subject(subjectID string) SubjectSpend {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.subjects[subjectID]
	if !ok {
		return SubjectSpend{}
	}
	return SubjectSpend{Cost: a.spent, Attempts: a.attempts, Charges: a.charges}
}

// Exhausted reports whether a spend was refused by the run-wide ceiling.
// Once set the run should stop launching new subjects.
func (g *Governor) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exhausted
}

// Reservation is budget held for one call.
type Reservation struct {
	g         *Governor
	subjectID string
	amount    float64
	meter     *Meter
	once      sync.Once
}

// Amount returns the reserved amount.
func (r *Reservation) Amount() float64 {
	return r.amount
}

// Settle releases the hold and charges the actual cost, returning the amount
// recorded. Cost above the reservation is charged only while it still fits
// every ceiling; otherwise the charge is clamped to the reservation so the
// ledger never passes a limit. Calling it more than once has no effect and
// returns zero.
func (r *Reservation) Settle(actualCost float64) float64 {
	var charged float64
	r.once.Do(func() {
		g := r.g
		g.mu.Lock()
		defer g.mu.Unlock()
		a := g.account(r.subjectID)
		g.reserved -= r.amount
		a.reserved -= r.amount

		charged = actualCost
		if over := actualCost - r.amount; over > epsilon {
			if v := g.limits.check(r.subjectID, g.spent+g.reserved+r.amount, a.spent+a.reserved+r.amount, over); v != nil {
				charged = r.amount
				g.log.Error("budget: actual cost exceeded reservation, charge clamped",
					zap.String("subject_id", r.subjectID),
					zap.String("ceiling", string(v.Ceiling)),
					zap.Float64("reserved", r.amount),
					zap.Float64("actual", actualCost),
				)
			} else {
				g.log.Warn("budget: actual cost exceeded reservation",
					zap.String("subject_id", r.subjectID),
					zap.Float64("reserved", r.amount),
					zap.Float64("actual", actualCost),
				)
			}
		}
		if charged > 0 {
			g.chargeLocked(charged, a)
		} else {
			charged = 0
		}
	})
	if r.meter != nil {
		r.meter.add(charged)
	}
	return charged
}

// Release returns the hold without charging anything.
func (r *Reservation) Release() {
	_ = r.Settle(0)
}

type spenderKey struct{}

// Spender reserves budget for work done on behalf of one subject deep inside
// a call, such as solving a CAPTCHA during a page fetch.
type Spender interface {
	Reserve(estimatedCost float64) (*Reservation, error)
}

type subjectSpender struct {
	g         *Governor
	subjectID string
	meter     *Meter
}

func (s subjectSpender) Reserve(estimatedCost float64) (*Reservation, error) {
	r, err := s.g.Reserve(estimatedCost, s.subjectID)
	if err != nil {
		return nil, err
	}
	r.meter = s.meter
	return r, nil
}

// Meter totals what reservations taken through one Spender settled for.
type Meter struct {
	mu    sync.Mutex
	total float64
}

func (m *Meter) add(v float64) {
	if v <= 0 {
		return
	}
	m.mu.Lock()
	m.total += v
	m.mu.Unlock()
}

// Total returns the amount charged through the spender so far.
func (m *Meter) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// WithSpender attaches a subject-bound spender to ctx.
func WithSpender(ctx context.Context, g *Governor, subjectID string) context.Context {
	return context.WithValue(ctx, spenderKey{}, Spender(subjectSpender{g: g, subjectID: subjectID}))
}

// WithMeteredSpender is WithSpender that also reports, through the returned
// Meter, how much the spender charged.
func WithMeteredSpender(ctx context.Context, g *Governor, subjectID string) (context.Context, *Meter) {
	m := &Meter{}
	return context.WithValue(ctx, spenderKey{}, Spender(subjectSpender{g: g, subjectID: subjectID, meter: m})), m
}

// SpenderFrom returns the spender attached to ctx, if any.
func SpenderFrom(ctx context.Context) (Spender, bool) {
	s, ok := ctx.Value(spenderKey{}).(Spender)
	return s, ok
}
