package source

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/pkg/wikidata"
)

// Wikidata reads cause, manner and place of death statements.
type Wikidata struct {
	base
	client wikidata.Client
}

// NewWikidata creates the wikidata adapter.
func NewWikidata(client wikidata.Client) *Wikidata {
	return &Wikidata{
		base: newBase(Descriptor{
			Type:        TypeWikidata,
			Name:        "Wikidata",
			Tier:        model.TierFreeStructured,
			Reliability: model.ReliabilityReference,
			MinDelay:    time.Second,
			Priority:    10,
		}),
		client: client,
	}
}

// Available reports whether the Wikidata client is set.
func (w *Wikidata) Available() bool { return w.client != nil }

// Lookup reads the death claims on the subject's Wikidata item.
func (w *Wikidata) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	if err := w.gate.Wait(ctx); err != nil {
		return nil, err
	}
	facts, err := w.client.DeathFacts(ctx, wikidata.Query{
		IMDbID:    subject.IMDbID,
		Name:      subject.Name,
		DeathYear: subject.DeathYear(),
	})
	if errors.Is(err, wikidata.ErrNoEntity) {
		return w.notFound("no wikidata entity"), nil
	}
	if err != nil {
		return nil, w.observe(err)
	}
	if y := subject.DeathYear(); y > 0 && len(facts.DeathDate) >= 4 && facts.DeathDate[:4] != strconv.Itoa(y) {
		return w.notFound("entity death date does not match subject"), nil
	}

	data := &model.DeathData{}
	conf := 0.4
	if len(facts.Causes) > 0 {
		data.Cause = facts.Causes[0]
		if len(facts.Causes) > 1 {
			data.CauseDetails = strings.Join(facts.Causes, "; ")
		}
		conf = 0.7
	}
	if len(facts.Manners) > 0 {
		data.Manner = strings.ToLower(facts.Manners[0])
	}
	if len(facts.Places) > 0 {
		data.Location = facts.Places[0]
	}
	return w.found(w.entry(facts.EntityURI, conf), data, 0), nil
}
