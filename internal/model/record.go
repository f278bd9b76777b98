package model

// Field names a single-winner attribute of a merged record.
type Field string

const (
	FieldCause                Field = "cause"
	FieldCauseDetails         Field = "cause_details"
	FieldManner               Field = "manner"
	FieldCircumstances        Field = "circumstances"
	FieldRumoredCircumstances Field = "rumored_circumstances"
	FieldLocation             Field = "location"
	FieldAdditionalContext    Field = "additional_context"
)

// Fields lists every single-winner field in a stable order.
var Fields = []Field{
	FieldCause,
	FieldCauseDetails,
	FieldManner,
	FieldCircumstances,
	FieldRumoredCircumstances,
	FieldLocation,
	FieldAdditionalContext,
}

// ValidField reports whether f is a known field.
func ValidField(f Field) bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}

// FieldValue is the current winner for one field.
type FieldValue struct {
	Value string `json:"value"`

	// Confidence is the field's confidence. It never decreases as results
	// are merged.
	Confidence float64 `json:"confidence"`

	// SourceConfidence is the winning source's own score.
	SourceConfidence float64     `json:"source_confidence"`
	Source           SourceType  `json:"source"`
	Reliability      Reliability `json:"reliability"`
	URL              string      `json:"url,omitempty"`
}

// MergedRecord is the best-known answer for a subject, built incrementally
// from lookup results.
type MergedRecord struct {
	SubjectID       string               `json:"subject_id"`
	Fields          map[Field]FieldValue `json:"fields"`
	NotableFactors  []string             `json:"notable_factors,omitempty"`
	RelatedEntities []RelatedEntity      `json:"related_entities,omitempty"`
	Sources         []SourceEntry        `json:"sources,omitempty"`
}

// NewMergedRecord returns an empty record for the subject.
func NewMergedRecord(subjectID string) *MergedRecord {
	return &MergedRecord{
		SubjectID: subjectID,
		Fields:    make(map[Field]FieldValue),
	}
}

// Value returns the winning value of f or "".
func (r *MergedRecord) Value(f Field) string {
	if r == nil {
		return ""
	}
	return r.Fields[f].Value
}

// Confidence returns the confidence of the winner for f, or 0.
func (r *MergedRecord) Confidence(f Field) float64 {
	if r == nil {
		return 0
	}
	return r.Fields[f].Confidence
}

// MinConfidence returns the lowest confidence across the given fields,
// counting a missing field as 0.
func (r *MergedRecord) MinConfidence(fields []Field) float64 {
	if len(fields) == 0 {
		return 0
	}
	lowest := 1.0
	for _, f := range fields {
		if c := r.Confidence(f); c < lowest {
			lowest = c
		}
	}
	return lowest
}
