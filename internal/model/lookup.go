package model

import "time"

// ErrorKind classifies a failed lookup.
type ErrorKind string

const (
	ErrorNone           ErrorKind = ""
	ErrorNotFound       ErrorKind = "not_found"
	ErrorAccessBlocked  ErrorKind = "access_blocked"
	ErrorRateLimited    ErrorKind = "rate_limited"
	ErrorBudgetExceeded ErrorKind = "budget_exceeded"
	ErrorTransient      ErrorKind = "transient"
	ErrorUnavailable    ErrorKind = "unavailable"
	ErrorUnexpected     ErrorKind = "unexpected"
)

// Definitive reports whether a failure of this kind is safe to cache.
func (k ErrorKind) Definitive() bool {
	return k == ErrorNotFound
}

// FetchStage names the step of the access fallback chain that produced a page.
type FetchStage string

const (
	StageDirect  FetchStage = "direct"
	StageArchive FetchStage = "archive"
	StageBrowser FetchStage = "browser"
)

// SourceEntry describes where a lookup result came from.
type SourceEntry struct {
	Type        SourceType  `json:"type"`
	URL         string      `json:"url,omitempty"`
	ArchiveURL  string      `json:"archive_url,omitempty"`
	Stage       FetchStage  `json:"stage,omitempty"`
	Confidence  float64     `json:"confidence"`
	Reliability Reliability `json:"reliability"`
	RetrievedAt time.Time   `json:"retrieved_at"`
	Raw         string      `json:"raw,omitempty"`
}

// Archived reports whether the content came from an archive snapshot.
func (e SourceEntry) Archived() bool {
	return e.Stage == StageArchive
}

// RelatedEntity is a person or organisation connected to the death.
type RelatedEntity struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
}

// DeathData holds the fields extracted by a single source.
type DeathData struct {
	Cause                string          `json:"cause,omitempty"`
	CauseDetails         string          `json:"cause_details,omitempty"`
	Manner               string          `json:"manner,omitempty"`
	Circumstances        string          `json:"circumstances,omitempty"`
	RumoredCircumstances string          `json:"rumored_circumstances,omitempty"`
	Location             string          `json:"location,omitempty"`
	AdditionalContext    string          `json:"additional_context,omitempty"`
	NotableFactors       []string        `json:"notable_factors,omitempty"`
	RelatedEntities      []RelatedEntity `json:"related_entities,omitempty"`
}

// Empty reports whether no field carries a value.
func (d *DeathData) Empty() bool {
	if d == nil {
		return true
	}
	for _, f := range Fields {
		if d.Get(f) != "" {
			return false
		}
	}
	return len(d.NotableFactors) == 0 && len(d.RelatedEntities) == 0
}

// Get returns the value of a single-winner field.
func (d *DeathData) Get(f Field) string {
	if d == nil {
		return ""
	}
	switch f {
	case FieldCause:
		return d.Cause
	case FieldCauseDetails:
		return d.CauseDetails
	case FieldManner:
		return d.Manner
	case FieldCircumstances:
		return d.Circumstances
	case FieldRumoredCircumstances:
		return d.RumoredCircumstances
	case FieldLocation:
		return d.Location
	case FieldAdditionalContext:
		return d.AdditionalContext
	default:
		return ""
	}
}

// LookupResult is the outcome of one adapter invocation. It is not modified
// after creation.
type LookupResult struct {
	Success      bool        `json:"success"`
	Error        ErrorKind   `json:"error,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Source       SourceEntry `json:"source"`
	Data         *DeathData  `json:"data,omitempty"`
	Cost         float64     `json:"cost"`
}

// NotFound builds a definitive failure result.
func NotFound(src SourceType, msg string) *LookupResult {
	return &LookupResult{
		Error:        ErrorNotFound,
		ErrorMessage: msg,
		Source:       SourceEntry{Type: src, RetrievedAt: time.Now().UTC()},
	}
}

// Failed builds a failure result of the given kind.
func Failed(src SourceType, kind ErrorKind, err error) *LookupResult {
	r := &LookupResult{
		Error:  kind,
		Source: SourceEntry{Type: src, RetrievedAt: time.Now().UTC()},
	}
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	return r
}
