package source

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/pkg/wikipedia"
)

// sectionHeading matches plain-text extract headings such as "== Death ==".
var sectionHeading = regexp.MustCompile(`(?m)^==+\s*(.+?)\s*==+\s*$`)

// Wikipedia extracts death sentences from the subject's article.
type Wikipedia struct {
	base
	client wikipedia.Client
}

// NewWikipedia creates the wikipedia adapter.
func NewWikipedia(client wikipedia.Client) *Wikipedia {
	return &Wikipedia{
		base: newBase(Descriptor{
			Type:        TypeWikipedia,
			Name:        "Wikipedia",
			Tier:        model.TierFreeStructured,
			Reliability: model.ReliabilityReference,
			MinDelay:    500 * time.Millisecond,
			Priority:    20,
		}),
		client: client,
	}
}

// Available reports whether the Wikipedia client is set.
func (w *Wikipedia) Available() bool { return w.client != nil }

// Lookup reads the death section of the subject's Wikipedia article.
func (w *Wikipedia) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	article, err := w.resolve(ctx, subject)
	if err != nil {
		return nil, w.observe(err)
	}
	if article == nil {
		return w.notFound("no matching article"), nil
	}

	ex := Extract(deathSection(article.Text), subject)
	ex.Corroborated = true
	return w.found(w.entry(article.URL, Score(0.55, ex)), ex.Data, 0), nil
}

// resolve finds the subject's article: the exact title first, then search.
// A candidate must mention the death year to rule out namesakes.
func (w *Wikipedia) resolve(ctx context.Context, subject model.Subject) (*wikipedia.Article, error) {
	year := strconv.Itoa(subject.DeathYear())
	accept := func(a *wikipedia.Article) bool {
		return a != nil && strings.Contains(a.Text, year) && MentionsSubject(a.Title, subject)
	}

	if err := w.gate.Wait(ctx); err != nil {
		return nil, err
	}
	a, err := w.client.Article(ctx, subject.Name)
	switch {
	case err == nil && accept(a):
		return a, nil
	case err != nil && !errors.Is(err, wikipedia.ErrNoArticle):
		return nil, err
	}

	if err := w.gate.Wait(ctx); err != nil {
		return nil, err
	}
	hits, err := w.client.Search(ctx, subject.Name+" "+year, 3)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if !MentionsSubject(h.Title, subject) {
			continue
		}
		if err := w.gate.Wait(ctx); err != nil {
			return nil, err
		}
		a, err := w.client.Article(ctx, h.Title)
		if errors.Is(err, wikipedia.ErrNoArticle) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if accept(a) {
			return a, nil
		}
	}
	return nil, nil
}

// deathSection returns the sections whose heading mentions death, or the
// whole text when there are none.
func deathSection(text string) string {
	locs := sectionHeading.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var parts []string
	// Lead paragraph usually states the death date and sometimes the cause.
	parts = append(parts, text[:locs[0][0]])
	for i, loc := range locs {
		heading := strings.ToLower(text[loc[2]:loc[3]])
		if !strings.Contains(heading, "death") && !strings.Contains(heading, "illness") && !strings.Contains(heading, "later life") {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		parts = append(parts, text[loc[1]:end])
	}
	return strings.Join(parts, "\n")
}
