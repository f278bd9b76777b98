package orchestrator

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

// OutcomeStore is the slice of the persistence layer the writer needs.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, runID string, o *model.Outcome) error
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DeleteDLQ(ctx context.Context, subjectID string) error
}

// StoreWriter persists outcomes and keeps the dead-letter queue in step:
// BLOCKED and SKIPPED subjects are enqueued, and a subject that reaches
// DONE leaves the queue.
type StoreWriter struct {
	store OutcomeStore
}

// NewStoreWriter wraps a store.
func NewStoreWriter(store OutcomeStore) *StoreWriter {
	return &StoreWriter{store: store}
}

func (w *StoreWriter) Write(ctx context.Context, runID string, o *model.Outcome) error {
	if err := w.store.SaveOutcome(ctx, runID, o); err != nil {
		return eris.Wrapf(err, "orchestrator: save outcome %s", o.Subject.ID)
	}
	switch o.State {
	case model.StateBlocked, model.StateSkipped:
		return eris.Wrapf(w.store.EnqueueDLQ(ctx, resilience.NewDLQEntry(runID, o)),
			"orchestrator: enqueue dlq %s", o.Subject.ID)
	case model.StateDone:
		return eris.Wrapf(w.store.DeleteDLQ(ctx, o.Subject.ID),
			"orchestrator: clear dlq %s", o.Subject.ID)
	}
	return nil
}
