package fetch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/pkg/captcha"
)

// ErrSolveNotAllowed is returned when a CAPTCHA solve cannot be paid for.
var ErrSolveNotAllowed = eris.New("fetch: captcha solve not allowed")

// Solver answers a CAPTCHA challenge with a token and reports what the
// solve was charged.
type Solver interface {
	Solve(ctx context.Context, task captcha.Task) (token string, cost float64, err error)
}

// BoundedSolver wraps a captcha.Client with a timeout, a per-solve cost cap
// and a budget reservation drawn from the Spender in the context.
type BoundedSolver struct {
	client          captcha.Client
	timeout         time.Duration
	costPerSolve    float64
	maxCostPerSolve float64
	log             *zap.Logger
}

// NewBoundedSolver creates a BoundedSolver. A zero maxCostPerSolve disables
// the per-solve cap.
func NewBoundedSolver(client captcha.Client, timeout time.Duration, costPerSolve, maxCostPerSolve float64, log *zap.Logger) *BoundedSolver {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BoundedSolver{
		client:          client,
		timeout:         timeout,
		costPerSolve:    costPerSolve,
		maxCostPerSolve: maxCostPerSolve,
		log:             log,
	}
}

// Solve reserves budget, solves the challenge and settles the charge. Failed
// solves are not charged.
func (s *BoundedSolver) Solve(ctx context.Context, task captcha.Task) (string, float64, error) {
	if s.maxCostPerSolve > 0 && s.costPerSolve > s.maxCostPerSolve {
		return "", 0, eris.Wrapf(ErrSolveNotAllowed, "cost %.4f exceeds per-solve cap %.4f", s.costPerSolve, s.maxCostPerSolve)
	}
	spender, ok := budget.SpenderFrom(ctx)
	if !ok {
		return "", 0, eris.Wrap(ErrSolveNotAllowed, "no budget attached to request")
	}
	res, err := spender.Reserve(s.costPerSolve)
	if err != nil {
		return "", 0, eris.Wrap(err, "fetch: reserve captcha budget")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	token, err := s.client.Solve(ctx, task)
	if err != nil {
		res.Release()
		return "", 0, eris.Wrap(err, "fetch: solve captcha")
	}
	charged := res.Settle(s.costPerSolve)

	s.log.Info("fetch: captcha solved",
		zap.String("kind", string(task.Kind)),
		zap.String("page", task.PageURL),
		zap.Duration("elapsed", time.Since(start)),
		zap.Float64("cost", charged),
	)
	return token, charged, nil
}
