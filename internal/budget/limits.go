// Package budget enforces spending ceilings for a run and records what was
// spent per subject.
package budget

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrBudgetExceeded is wrapped by every Violation.
var ErrBudgetExceeded = eris.New("budget exceeded")

// Ceiling names which limit refused a spend.
type Ceiling string

const (
	CeilingTotal    Ceiling = "total"
	CeilingSubject  Ceiling = "subject"
	CeilingFreeOnly Ceiling = "free_only"
)

// Limits defines spending constraints. Zero values mean unlimited.
type Limits struct {
	MaxTotalCost   float64 `json:"max_total_cost" yaml:"max_total_cost" mapstructure:"max_total_cost"`
	MaxSubjectCost float64 `json:"max_subject_cost" yaml:"max_subject_cost" mapstructure:"max_subject_cost"`
	FreeOnly       bool    `json:"free_only" yaml:"free_only" mapstructure:"free_only"`

	// WarningThreshold logs once when total spend crosses this fraction
	// of MaxTotalCost.
	WarningThreshold float64 `json:"warning_threshold" yaml:"warning_threshold" mapstructure:"warning_threshold"`
}

// Violation describes a refused spend.
type Violation struct {
	Ceiling   Ceiling `json:"ceiling"`
	SubjectID string  `json:"subject_id,omitempty"`
	Current   float64 `json:"current"`
	Requested float64 `json:"requested"`
	Limit     float64 `json:"limit"`
}

func (v *Violation) Error() string {
	if v.Ceiling == CeilingFreeOnly {
		return fmt.Sprintf("budget exceeded: free-only mode refuses $%.4f", v.Requested)
	}
	return fmt.Sprintf("budget exceeded: %s ceiling $%.4f, committed $%.4f, requested $%.4f",
		v.Ceiling, v.Limit, v.Current, v.Requested)
}

func (v *Violation) Unwrap() error {
	return ErrBudgetExceeded
}

// epsilon absorbs float rounding when comparing sums of small prices.
const epsilon = 1e-9

// check returns the first ceiling that committed+requested would cross.
func (l Limits) check(subjectID string, total, subject, requested float64) *Violation {
	if requested <= 0 {
		return nil
	}
	if l.FreeOnly {
		return &Violation{Ceiling: CeilingFreeOnly, SubjectID: subjectID, Requested: requested}
	}
	if l.MaxTotalCost > 0 && total+requested > l.MaxTotalCost+epsilon {
		return &Violation{Ceiling: CeilingTotal, SubjectID: subjectID, Current: total, Requested: requested, Limit: l.MaxTotalCost}
	}
	if l.MaxSubjectCost > 0 && subject+requested > l.MaxSubjectCost+epsilon {
		return &Violation{Ceiling: CeilingSubject, SubjectID: subjectID, Current: subject, Requested: requested, Limit: l.MaxSubjectCost}
	}
	return nil
}
