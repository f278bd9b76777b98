package source

import (
	"context"
	"strings"
	"time"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/pkg/chronicling"
)

// ocrWindow is how much OCR text around a name mention is analysed.
const ocrWindow = 700

// Chronicling searches digitized newspapers for deaths the archive covers.
type Chronicling struct {
	base
	client chronicling.Client
}

// NewChronicling creates the chronicling_america adapter.
func NewChronicling(client chronicling.Client) *Chronicling {
	return &Chronicling{
		base: newBase(Descriptor{
			Type:        TypeChroniclingAmerica,
			Name:        "Chronicling America",
			Tier:        model.TierFreeStructured,
			Reliability: model.ReliabilityArchival,
			MinDelay:    time.Second,
			Priority:    30,
		}),
		client: client,
	}
}

// Available reports whether the Chronicling America client is set.
func (c *Chronicling) Available() bool { return c.client != nil }

// Lookup searches digitized newspapers printed around the subject's death.
func (c *Chronicling) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	year := subject.DeathYear()
	if year > chronicling.LastYear {
		return c.notFound("death is after archive coverage"), nil
	}
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}
	pages, err := c.client.SearchPages(ctx, chronicling.Search{
		Phrase:   subject.Name,
		FromYear: year,
		ToYear:   year + 1,
	})
	if err != nil {
		return nil, c.observe(err)
	}

	for _, p := range pages {
		text := mentionWindows(p.OCR, subject, ocrWindow)
		if text == "" {
			continue
		}
		ex := Extract(text, subject)
		if ex.Data.Cause == "" {
			continue
		}
		e := c.entry(p.URL, Score(0.5, ex))
		return c.found(e, ex.Data, 0), nil
	}
	return c.notFound("no newspaper page names a cause"), nil
}

// mentionWindows returns the text surrounding each mention of the
// subject's surname. OCR pages hold many unrelated articles.
func mentionWindows(ocr string, subject model.Subject, width int) string {
	parts := strings.Fields(NormalizeName(subject.Name))
	if len(parts) == 0 {
		return ""
	}
	surname := parts[len(parts)-1]
	lower := strings.ToLower(ocr)

	var windows []string
	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], surname)
		if i < 0 {
			break
		}
		i += from
		start, end := max(0, i-width/2), min(len(ocr), i+width/2)
		windows = append(windows, ocr[start:end])
		from = end
	}
	return strings.Join(windows, " ... ")
}
