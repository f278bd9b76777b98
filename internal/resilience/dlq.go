package resilience

import (
	"time"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// DLQEntry is a subject that ended BLOCKED or SKIPPED and can be re-run with
// a different budget or tier selection.
type DLQEntry struct {
	SubjectID    string             `json:"subject_id"`
	Subject      model.Subject      `json:"subject"`
	State        model.SubjectState `json:"state"`
	Reason       string             `json:"reason"`
	ErrorType    string             `json:"error_type"` // "transient" or "permanent"
	RunID        string             `json:"run_id,omitempty"`
	RetryCount   int                `json:"retry_count"`
	MaxRetries   int                `json:"max_retries"`
	CreatedAt    time.Time          `json:"created_at"`
	LastFailedAt time.Time          `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	State     model.SubjectState `json:"state,omitempty"`
	ErrorType string             `json:"error_type,omitempty"`
	Limit     int                `json:"limit,omitempty"`
}

// DefaultMaxRetries bounds how often a subject is re-queued.
const DefaultMaxRetries = 3

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NewDLQEntry builds an entry from a terminal outcome.
func NewDLQEntry(runID string, o *model.Outcome) DLQEntry {
	now := time.Now().UTC()
	return DLQEntry{
		SubjectID:    o.Subject.ID,
		Subject:      o.Subject,
		State:        o.State,
		Reason:       o.Reason,
		ErrorType:    ClassifyOutcome(o),
		RunID:        runID,
		MaxRetries:   DefaultMaxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

// ClassifyOutcome labels a failed outcome "transient" when a re-run could
// plausibly succeed (budget, rate limits, blocks) and "permanent" when every
// source definitively found nothing.
func ClassifyOutcome(o *model.Outcome) string {
	if o.State == model.StateSkipped {
		return "transient"
	}
	for _, a := range o.Attempts {
		if a.Error != model.ErrorNotFound && a.Error != model.ErrorNone {
			return "transient"
		}
	}
	return "permanent"
}
