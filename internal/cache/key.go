package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// keyVersion is bumped whenever the key derivation or the stored value
// shape changes, orphaning old entries.
const keyVersion = "v1"

// Key derives the cache key for one lookup. Keys have the form
// v1:<source>:<subject id>:<digest> so that a source, or a source and
// subject, can be invalidated by prefix. The digest covers every input
// that shapes the query, so renaming a subject or changing its dates
// produces a new key.
func Key(subject model.Subject, src model.SourceType, params map[string]string) string {
	h := sha256.New()
	write := func(k, v string) {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	write("name", foldName(subject.Name))
	write("imdb", strings.ToLower(strings.TrimSpace(subject.IMDbID)))
	write("birth", subject.Birth.String())
	write("death", subject.Death.String())

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write("p:"+k, params[k])
	}
	return Prefix(src, subject.ID) + hex.EncodeToString(h.Sum(nil))
}

// Prefix returns the key prefix for a source, narrowed to one subject when
// subjectID is not empty.
func Prefix(src model.SourceType, subjectID string) string {
	p := keyVersion + ":" + string(src) + ":"
	if subjectID != "" {
		p += subjectID + ":"
	}
	return p
}

// foldName strips accents, case and redundant whitespace so that
// "Zoë  Saldaña" and "zoe saldana" share a key.
func foldName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
