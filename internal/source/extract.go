package source

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/chenders/deadonfilm-sub014/internal/confidence"
	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// NormalizeName folds case and diacritics so "Zsa Zsa Gábor" and
// "zsa zsa gabor" compare equal.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

var deathKeywords = []string{
	"died", "dies", "death", "passed away", "killed", "found dead",
	"obituary", "succumbed", "cause of death",
}

var causePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)cause of death (?:was|is|:)\s*([^.;]+)`),
	regexp.MustCompile(`(?i)(?:died|dies|passed away) (?:of|from) ([^.;,]+)`),
	regexp.MustCompile(`(?i)complications (?:of|from) ([^.;,]+)`),
	regexp.MustCompile(`(?i)(?:after|following) (?:a |an )?(?:long |brief |short |lengthy )?(?:battle|struggle|fight) with ([^.;,]+)`),
	regexp.MustCompile(`(?i)succumbed to ([^.;,]+)`),
	regexp.MustCompile(`(?i)(?:was )?killed in (an? [^.;,]+)`),
}

var (
	locationPattern = regexp.MustCompile(`(?i:died|passed away|was found dead)(?: [a-z ]+?)? (?:in|at) ((?:[A-Z][\p{L}'.-]+)(?:[ ,]+[A-Z][\p{L}'.-]+){0,3})`)
	familyPattern   = regexp.MustCompile(`(?:survived by|leaves behind|is survived by) (?:his|her|their) (wife|husband|partner|son|daughter|mother|father|brother|sister),? ([A-Z][\p{L}'-]+(?: [A-Z][\p{L}'-]+){0,2})`)
)

// causeTerminators cut trailing clauses off an extracted cause.
var causeTerminators = []string{
	" at the age", " at age", " aged ", " at his ", " at her ", " at their ",
	" in hospital", " on ", " surrounded by", " after ", " while ", " according to",
}

var rumorMarkers = []string{"rumor", "rumour", "speculat", "alleged", "conspiracy", "disputed", "unconfirmed"}

var factorKeywords = map[string][]string{
	"accident":      {"accident", "crash", "collision", "drowned", "fell from"},
	"overdose":      {"overdose", "intoxication", "toxicity"},
	"suicide":       {"suicide", "took his own life", "took her own life", "took their own life"},
	"homicide":      {"murdered", "homicide", "shot and killed", "stabbed"},
	"cancer":        {"cancer", "leukemia", "lymphoma", "tumor", "tumour", "melanoma"},
	"heart_disease": {"heart attack", "heart failure", "cardiac", "myocardial"},
	"covid19":       {"covid", "coronavirus"},
	"on_set":        {"on set", "on the set", "during filming", "while filming"},
	"sudden":        {"suddenly", "unexpectedly", "sudden"},
	"illness":       {"illness", "disease", "pneumonia", "complications"},
}

// Sentences splits prose into sentences on terminal punctuation.
func Sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// MentionsSubject reports whether text names the subject by full name or
// surname.
func MentionsSubject(text string, subject model.Subject) bool {
	norm := NormalizeName(text)
	name := NormalizeName(subject.Name)
	if name == "" {
		return false
	}
	if strings.Contains(norm, name) {
		return true
	}
	parts := strings.Fields(name)
	return len(parts) > 1 && strings.Contains(norm, parts[len(parts)-1])
}

// Extraction is the result of analysing free text about a death.
type Extraction struct {
	Data *model.DeathData
	// ExplicitCause is set when the cause came from explicit phrasing
	// such as "died of" rather than keyword inference.
	ExplicitCause bool
	// Corroborated is set when the full name appears in the text.
	Corroborated bool
}

// Extract pulls death information about subject out of prose. It only
// considers sentences that mention a death keyword.
func Extract(text string, subject model.Subject) Extraction {
	var ex Extraction
	data := &model.DeathData{}
	ex.Data = data
	ex.Corroborated = strings.Contains(NormalizeName(text), NormalizeName(subject.Name))

	var relevant, rumored []string
	for _, s := range Sentences(text) {
		lower := strings.ToLower(s)
		if !containsAny(lower, deathKeywords) {
			continue
		}
		if containsAny(lower, rumorMarkers) {
			rumored = append(rumored, s)
			continue
		}
		relevant = append(relevant, s)
	}

	for _, s := range relevant {
		if data.Cause == "" {
			if c := matchCause(s); c != "" {
				data.Cause = c
				data.CauseDetails = s
				ex.ExplicitCause = true
			}
		}
		if data.Location == "" {
			if m := locationPattern.FindStringSubmatch(s); m != nil {
				data.Location = strings.Trim(m[1], " ,.")
			}
		}
		for _, m := range familyPattern.FindAllStringSubmatch(s, -1) {
			data.RelatedEntities = append(data.RelatedEntities, model.RelatedEntity{Name: m[2], Relationship: m[1]})
		}
	}

	data.Circumstances = joinLimited(relevant, 600)
	data.RumoredCircumstances = joinLimited(rumored, 400)

	lowerAll := strings.ToLower(data.Circumstances + " " + data.RumoredCircumstances)
	for tag, words := range factorKeywords {
		if containsAny(lowerAll, words) {
			data.NotableFactors = append(data.NotableFactors, tag)
		}
	}
	if data.RumoredCircumstances != "" {
		data.NotableFactors = append(data.NotableFactors, "disputed")
	}
	if age := subject.AgeAtDeath(); age >= 0 && age < 40 {
		data.NotableFactors = append(data.NotableFactors, "young")
	}
	data.NotableFactors = confidence.UnionFactors(nil, sortedTags(data.NotableFactors))
	return ex
}

func matchCause(sentence string) string {
	for _, p := range causePatterns {
		m := p.FindStringSubmatch(sentence)
		if m == nil {
			continue
		}
		return cleanCause(m[1])
	}
	return ""
}

func cleanCause(c string) string {
	c = strings.TrimSpace(c)
	lower := strings.ToLower(c)
	cut := len(c)
	for _, t := range causeTerminators {
		if i := strings.Index(lower, t); i > 0 && i < cut {
			cut = i
		}
	}
	c = strings.Trim(c[:cut], " ,;:")
	if len(c) > 80 {
		c = strings.TrimSpace(c[:80])
	}
	return c
}

func joinLimited(parts []string, limit int) string {
	var b strings.Builder
	for _, p := range parts {
		if b.Len()+len(p)+1 > limit {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}

func sortedTags(tags []string) []string {
	out := append([]string(nil), tags...)
	sort.Strings(out)
	return out
}

// Score turns an extraction into a confidence. Each adapter supplies its
// base score; the bonuses are shared so results from different adapters
// stay comparable.
func Score(baseScore float64, ex Extraction) float64 {
	s := baseScore
	if len(ex.Data.Circumstances) > 100 {
		s += 0.1
	}
	if ex.ExplicitCause {
		s += 0.1
	}
	if ex.Corroborated {
		s += 0.05
	}
	if ex.Data.Cause == "" {
		s -= 0.2
	}
	return confidence.Clamp(s)
}
