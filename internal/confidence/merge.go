// Package confidence folds lookup results into a merged record using
// reliability tiers and per-result confidence.
package confidence

import (
	"strings"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// Winner reports whether candidate should replace current as the value of a
// field. Reliability is compared first; confidence only breaks reliability
// ties, and an exact tie keeps the earlier (cheaper) value.
func Winner(current *model.FieldValue, candidate model.FieldValue) bool {
	switch {
	case current == nil || current.Value == "":
		return true
	case candidate.Reliability.Outranks(current.Reliability):
		return true
	case candidate.Reliability == current.Reliability:
		return candidate.SourceConfidence > current.SourceConfidence
	default:
		return false
	}
}

// Fold merges one successful result into rec and returns the fields whose
// winner changed. Failed or empty results leave rec untouched.
//
// A field's Confidence never decreases: when a more reliable source with a
// lower score takes over a field, the field keeps the higher of the two
// scores, while SourceConfidence records the new winner's own score.
func Fold(rec *model.MergedRecord, res *model.LookupResult) []model.Field {
	if rec == nil || res == nil || !res.Success || res.Data.Empty() {
		return nil
	}
	if rec.Fields == nil {
		rec.Fields = make(map[model.Field]model.FieldValue)
	}

	conf := Clamp(res.Source.Confidence)
	var changed []model.Field
	for _, f := range model.Fields {
		v := strings.TrimSpace(res.Data.Get(f))
		if v == "" {
			continue
		}
		candidate := model.FieldValue{
			Value:            v,
			Confidence:       conf,
			SourceConfidence: conf,
			Source:           res.Source.Type,
			Reliability:      res.Source.Reliability,
			URL:              res.Source.URL,
		}
		current, ok := rec.Fields[f]
		var cur *model.FieldValue
		if ok {
			cur = &current
		}
		if !Winner(cur, candidate) {
			continue
		}
		if cur != nil && cur.Confidence > candidate.Confidence {
			candidate.Confidence = cur.Confidence
		}
		rec.Fields[f] = candidate
		changed = append(changed, f)
	}

	rec.NotableFactors = UnionFactors(rec.NotableFactors, res.Data.NotableFactors)
	rec.RelatedEntities = UnionEntities(rec.RelatedEntities, res.Data.RelatedEntities)
	rec.Sources = append(rec.Sources, res.Source)
	return changed
}

// Satisfied reports whether every required field has reached threshold.
func Satisfied(rec *model.MergedRecord, required []model.Field, threshold float64) bool {
	if len(required) == 0 {
		return false
	}
	return rec.MinConfidence(required) >= threshold
}

// Clamp bounds a confidence score to [0,1].
func Clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func normTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "-", "_")), "_")
}

// UnionFactors appends unseen tags from add to base, normalising case and
// separators, preserving first-seen order.
func UnionFactors(base, add []string) []string {
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, t := range list {
			n := normTag(t)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// UnionEntities merges related entities by case-insensitive name. A later
// entry can fill in a relationship the earlier one lacked.
func UnionEntities(base, add []model.RelatedEntity) []model.RelatedEntity {
	idx := make(map[string]int, len(base)+len(add))
	out := make([]model.RelatedEntity, 0, len(base)+len(add))
	for _, list := range [][]model.RelatedEntity{base, add} {
		for _, e := range list {
			name := strings.TrimSpace(e.Name)
			key := strings.ToLower(name)
			if key == "" {
				continue
			}
			if i, ok := idx[key]; ok {
				if out[i].Relationship == "" {
					out[i].Relationship = strings.TrimSpace(e.Relationship)
				}
				continue
			}
			idx[key] = len(out)
			out = append(out, model.RelatedEntity{Name: name, Relationship: strings.TrimSpace(e.Relationship)})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
