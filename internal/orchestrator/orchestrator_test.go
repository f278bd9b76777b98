package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
	"github.com/chenders/deadonfilm-sub014/internal/source"
	"github.com/chenders/deadonfilm-sub014/internal/waterfall"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type runnerFunc func(ctx context.Context, rc *waterfall.RunContext, s model.Subject) (*model.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, rc *waterfall.RunContext, s model.Subject) (*model.Outcome, error) {
	return f(ctx, rc, s)
}

type recordingWriter struct {
	mu   sync.Mutex
	seen map[string]model.SubjectState
}

func (w *recordingWriter) Write(_ context.Context, _ string, o *model.Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen == nil {
		w.seen = map[string]model.SubjectState{}
	}
	w.seen[o.Subject.ID] = o.State
	return nil
}

func subjects(n int) []model.Subject {
	out := make([]model.Subject, n)
	for i := range out {
		out[i] = model.Subject{
			ID:    fmt.Sprintf("nm%04d", i),
			Name:  fmt.Sprintf("Person %d", i),
			Death: &model.PartialDate{Year: 1990 + i%30},
		}
	}
	return out
}

func outcome(s model.Subject, state model.SubjectState, attempts ...model.Attempt) *model.Outcome {
	return &model.Outcome{Subject: s, State: state, Attempts: attempts, Record: model.NewMergedRecord(s.ID)}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	runner := runnerFunc(func(_ context.Context, _ *waterfall.RunContext, s model.Subject) (*model.Outcome, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return outcome(s, model.StateDone, model.Attempt{Tier: model.TierFreeStructured, Success: true}), nil
	})

	w := &recordingWriter{}
	sum, err := New(runner, w, 3).Run(context.Background(), &waterfall.RunContext{}, "run-1", subjects(20))
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 20, sum.Total)
	assert.Equal(t, 20, sum.ByState[model.StateDone])
	assert.Equal(t, 20, sum.TierSuccesses[model.TierFreeStructured])
	assert.Len(t, w.seen, 20)
}

func TestRun_SummaryLists(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ *waterfall.RunContext, s model.Subject) (*model.Outcome, error) {
		switch s.ID {
		case "nm0000":
			return outcome(s, model.StateBlocked), nil
		case "nm0001":
			return outcome(s, model.StateSkipped), nil
		case "nm0002":
			return outcome(s, model.StateInvalid), model.ErrNotCandidate
		default:
			return outcome(s, model.StateDone), nil
		}
	})

	sum, err := New(runner, nil, 2).Run(context.Background(), &waterfall.RunContext{}, "run-1", subjects(4))
	require.NoError(t, err)
	assert.Equal(t, []string{"nm0000"}, sum.Blocked)
	assert.Equal(t, []string{"nm0001"}, sum.Skipped)
	assert.Equal(t, []string{"nm0002"}, sum.Invalid)
	assert.Equal(t, 1, sum.ByState[model.StateDone])
}

func TestRun_CancelStopsLaunching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	runner := runnerFunc(func(_ context.Context, _ *waterfall.RunContext, s model.Subject) (*model.Outcome, error) {
		if started.Add(1) == 1 {
			cancel()
		}
		return outcome(s, model.StateSkipped), nil
	})

	sum, err := New(runner, nil, 1).Run(ctx, &waterfall.RunContext{}, "run-1", subjects(50))
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Less(t, int(started.Load()), 50)
	assert.Equal(t, 50, sum.Total+sum.NotStarted)
}

func TestRun_BudgetExhaustionStopsLaunching(t *testing.T) {
	gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 0.05}, nil)
	paid := &stubSource{
		desc: source.Descriptor{Type: "claude", Tier: model.TierAI, Reliability: model.ReliabilityAIModel, Cost: 0.02},
	}
	exec := waterfall.NewExecutor(nil, source.NewRegistry(paid), nil)

	rc := &waterfall.RunContext{Governor: gov}
	sum, err := New(exec, nil, 1).Run(context.Background(), rc, "run-1", subjects(10))
	require.NoError(t, err)

	assert.True(t, sum.BudgetHalted)
	assert.LessOrEqual(t, sum.TotalCost, 0.05+1e-9)
	assert.Equal(t, int32(2), paid.calls.Load(), "two calls fit under the ceiling")
	assert.NotEmpty(t, sum.Skipped)
	assert.Positive(t, sum.NotStarted)
}

func TestRun_DryRunSkipsWriter(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ *waterfall.RunContext, s model.Subject) (*model.Outcome, error) {
		return outcome(s, model.StateDone), nil
	})
	w := &recordingWriter{}
	_, err := New(runner, w, 2).Run(context.Background(), &waterfall.RunContext{DryRun: true}, "run-1", subjects(3))
	require.NoError(t, err)
	assert.Empty(t, w.seen)
}

type stubSource struct {
	desc  source.Descriptor
	calls atomic.Int32
}

func (s *stubSource) Descriptor() source.Descriptor { return s.desc }
func (s *stubSource) Available() bool               { return true }

func (s *stubSource) Lookup(_ context.Context, subj model.Subject) (*model.LookupResult, error) {
	s.calls.Add(1)
	return &model.LookupResult{
		Success: true,
		Source:  model.SourceEntry{Type: s.desc.Type, Confidence: 0.5, Reliability: s.desc.Reliability},
		Data:    &model.DeathData{Cause: "cancer"},
		Cost:    s.desc.Cost,
	}, nil
}

type mockOutcomeStore struct {
	mock.Mock
}

func (m *mockOutcomeStore) SaveOutcome(ctx context.Context, runID string, o *model.Outcome) error {
	return m.Called(ctx, runID, o).Error(0)
}

func (m *mockOutcomeStore) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockOutcomeStore) DeleteDLQ(ctx context.Context, subjectID string) error {
	return m.Called(ctx, subjectID).Error(0)
}

func TestStoreWriter(t *testing.T) {
	ctx := context.Background()
	s := subjects(1)[0]

	t.Run("blocked goes to dlq", func(t *testing.T) {
		st := &mockOutcomeStore{}
		o := outcome(s, model.StateBlocked)
		st.On("SaveOutcome", ctx, "run-1", o).Return(nil)
		st.On("EnqueueDLQ", ctx, mock.MatchedBy(func(e resilience.DLQEntry) bool {
			return e.SubjectID == s.ID && e.State == model.StateBlocked && e.RunID == "run-1"
		})).Return(nil)

		require.NoError(t, NewStoreWriter(st).Write(ctx, "run-1", o))
		st.AssertExpectations(t)
	})

	t.Run("done clears dlq", func(t *testing.T) {
		st := &mockOutcomeStore{}
		o := outcome(s, model.StateDone)
		st.On("SaveOutcome", ctx, "run-1", o).Return(nil)
		st.On("DeleteDLQ", ctx, s.ID).Return(nil)

		require.NoError(t, NewStoreWriter(st).Write(ctx, "run-1", o))
		st.AssertExpectations(t)
	})

	t.Run("save failure stops", func(t *testing.T) {
		st := &mockOutcomeStore{}
		o := outcome(s, model.StateSkipped)
		st.On("SaveOutcome", ctx, "run-1", o).Return(errors.New("disk full"))

		err := NewStoreWriter(st).Write(ctx, "run-1", o)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "save outcome")
		st.AssertNotCalled(t, "EnqueueDLQ", mock.Anything, mock.Anything)
	})
}
