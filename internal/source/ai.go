package source

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/confidence"
	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// AI prompt bounds used for budget reservations.
const (
	aiPromptTokens = 900
	aiMaxTokens    = 800
)

const aiSystemPrompt = `You research how notable people died. Answer only with a JSON object with these keys:
"cause" (short medical or physical cause, or null if unknown),
"cause_details" (one or two sentences),
"manner" (one of natural, accident, suicide, homicide, undetermined, or null),
"circumstances" (what happened, in neutral prose),
"rumored_circumstances" (unconfirmed or disputed accounts, or null),
"location" (where they died),
"additional_context" (anything else relevant to the death),
"notable_factors" (lowercase tags such as overdose, vehicle_crash, on_set),
"related_entities" (array of {"name","relationship"}),
"confidence" (high, medium or low),
"sources" (URLs you relied on).
Never guess. If you do not know how the person died, set cause to null.`

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// aiAnswer is the JSON object the AI sources are asked for.
type aiAnswer struct {
	Cause                *string               `json:"cause"`
	CauseDetails         *string               `json:"cause_details"`
	Manner               *string               `json:"manner"`
	Circumstances        *string               `json:"circumstances"`
	RumoredCircumstances *string               `json:"rumored_circumstances"`
	Location             *string               `json:"location"`
	AdditionalContext    *string               `json:"additional_context"`
	NotableFactors       []string              `json:"notable_factors"`
	RelatedEntities      []model.RelatedEntity `json:"related_entities"`
	Confidence           string                `json:"confidence"`
	Sources              []string              `json:"sources"`
}

// aiUserPrompt describes the subject to the model.
func aiUserPrompt(subject model.Subject) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Person: %s\n", subject.Name)
	if subject.Birth != nil {
		fmt.Fprintf(&b, "Born: %s\n", subject.Birth)
	}
	fmt.Fprintf(&b, "Died: %s\n", subject.Death)
	if len(subject.PrimaryProfessions) > 0 {
		fmt.Fprintf(&b, "Known as: %s\n", strings.Join(subject.PrimaryProfessions, ", "))
	}
	if subject.IMDbID != "" {
		fmt.Fprintf(&b, "IMDb: https://www.imdb.com/name/%s/\n", subject.IMDbID)
	}
	b.WriteString("How did this person die?")
	return b.String()
}

// parseAIAnswer decodes the model's JSON, tolerating code fences and prose
// around the object.
func parseAIAnswer(text string) (*aiAnswer, error) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("source: no JSON object in model answer")
	}
	var a aiAnswer
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return nil, eris.Wrap(err, "source: decode model answer")
	}
	return &a, nil
}

// deref returns the trimmed value, treating placeholders as empty.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	switch strings.ToLower(v) {
	case "null", "unknown", "n/a", "none", "not known":
		return ""
	}
	return v
}

// data converts the answer into DeathData.
func (a *aiAnswer) data() *model.DeathData {
	d := &model.DeathData{
		Cause:                deref(a.Cause),
		CauseDetails:         deref(a.CauseDetails),
		Manner:               strings.ToLower(deref(a.Manner)),
		Circumstances:        deref(a.Circumstances),
		RumoredCircumstances: deref(a.RumoredCircumstances),
		Location:             deref(a.Location),
		AdditionalContext:    deref(a.AdditionalContext),
		NotableFactors:       confidence.UnionFactors(nil, a.NotableFactors),
		RelatedEntities:      confidence.UnionEntities(nil, a.RelatedEntities),
	}
	if d.Cause == "" && d.Circumstances == "" {
		return &model.DeathData{}
	}
	return d
}

// score maps the model's self-reported confidence, discounted when it gave
// no sources.
func (a *aiAnswer) score() float64 {
	var s float64
	switch strings.ToLower(a.Confidence) {
	case "high":
		s = 0.8
	case "medium":
		s = 0.6
	default:
		s = 0.4
	}
	if len(a.Sources) == 0 {
		s -= 0.1
	}
	if deref(a.Cause) == "" {
		s -= 0.2
	}
	return confidence.Clamp(s)
}

// firstURL returns the first citation, preferring explicit ones.
func firstURL(lists ...[]string) string {
	for _, l := range lists {
		for _, u := range l {
			if strings.HasPrefix(u, "http") {
				return u
			}
		}
	}
	return ""
}
