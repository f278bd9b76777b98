package model

import "time"

// SubjectState is the scheduler state of one subject.
type SubjectState string

const (
	StatePending              SubjectState = "pending"
	StateTryingFreeStructured SubjectState = "trying_free_structured"
	StateTryingFreeWeb        SubjectState = "trying_free_web"
	StateTryingFreeNews       SubjectState = "trying_free_news"
	StateTryingPaid           SubjectState = "trying_paid"
	StateTryingAI             SubjectState = "trying_ai"
	StateDone                 SubjectState = "done"
	StateSkipped              SubjectState = "skipped"
	StateBlocked              SubjectState = "blocked"
	StateInvalid              SubjectState = "invalid"
)

// Terminal reports whether no further transitions follow.
func (s SubjectState) Terminal() bool {
	switch s {
	case StateDone, StateSkipped, StateBlocked, StateInvalid:
		return true
	}
	return false
}

// StateForTier returns the in-progress state for a scheduling tier.
func StateForTier(t Tier) SubjectState {
	switch t {
	case TierFreeStructured:
		return StateTryingFreeStructured
	case TierFreeWeb:
		return StateTryingFreeWeb
	case TierFreeNews:
		return StateTryingFreeNews
	case TierPaid:
		return StateTryingPaid
	case TierAI:
		return StateTryingAI
	default:
		return StatePending
	}
}

// Attempt records one source invocation (or refusal) for a subject.
type Attempt struct {
	Source   SourceType    `json:"source"`
	Tier     Tier          `json:"tier"`
	Success  bool          `json:"success"`
	Error    ErrorKind     `json:"error,omitempty"`
	Message  string        `json:"message,omitempty"`
	Cost     float64       `json:"cost"`
	Cached   bool          `json:"cached"`
	Stage    FetchStage    `json:"stage,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Outcome is the final result of processing one subject.
type Outcome struct {
	Subject    Subject       `json:"subject"`
	State      SubjectState  `json:"state"`
	Reason     string        `json:"reason,omitempty"`
	Record     *MergedRecord `json:"record"`
	Attempts   []Attempt     `json:"attempts"`
	Cost       float64       `json:"cost"`
	LastTier   Tier          `json:"last_tier,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Succeeded reports whether any attempt produced data.
func (o *Outcome) Succeeded() bool {
	for _, a := range o.Attempts {
		if a.Success {
			return true
		}
	}
	return false
}

// RunSummary aggregates a batch run.
type RunSummary struct {
	Total         int                  `json:"total"`
	ByState       map[SubjectState]int `json:"by_state"`
	TierSuccesses map[Tier]int         `json:"tier_successes"`
	TotalCost     float64              `json:"total_cost"`
	Blocked       []string             `json:"blocked,omitempty"`
	Skipped       []string             `json:"skipped,omitempty"`
	Invalid       []string             `json:"invalid,omitempty"`
	NotStarted    int                  `json:"not_started"`
	Cancelled     bool                 `json:"cancelled"`
	BudgetHalted  bool                 `json:"budget_halted"`
}

// NewRunSummary returns a summary with its maps initialised.
func NewRunSummary() *RunSummary {
	return &RunSummary{
		ByState:       make(map[SubjectState]int),
		TierSuccesses: make(map[Tier]int),
	}
}

// RunStatus is the lifecycle status of a persisted run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// RunOptions captures the flags a run was started with.
type RunOptions struct {
	Limit        int     `json:"limit"`
	BatchSize    int     `json:"batch_size"`
	MaxCost      float64 `json:"max_cost"`
	MaxTotalCost float64 `json:"max_total_cost"`
	Tiers        []Tier  `json:"tiers"`
	DryRun       bool    `json:"dry_run"`
	IgnoreCache  bool    `json:"ignore_cache"`
}

// Run is a persisted batch run.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Options   RunOptions  `json:"options"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
