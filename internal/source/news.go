package source

import (
	"context"
	"errors"
	"time"

	"github.com/chenders/deadonfilm-sub014/internal/fetch"
	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// maxArticles bounds how many search hits a news adapter opens.
const maxArticles = 2

// NewsSite describes one news or obituary publisher.
type NewsSite struct {
	Type        model.SourceType
	Name        string
	Domain      string
	Reliability model.Reliability
	Priority    int
	// Terms are appended to the site search, such as "obituary".
	Terms string
}

// NewsSites is the built-in FREE_NEWS catalogue.
var NewsSites = []NewsSite{
	{Type: TypeAPNews, Name: "AP News", Domain: "apnews.com", Reliability: model.ReliabilityTier1News, Priority: 10, Terms: "dies"},
	{Type: TypeGuardian, Name: "The Guardian", Domain: "theguardian.com", Reliability: model.ReliabilityTier1News, Priority: 20, Terms: "obituary"},
	{Type: TypeBBCNews, Name: "BBC News", Domain: "bbc.co.uk", Reliability: model.ReliabilityTier1News, Priority: 30, Terms: "dies"},
	{Type: TypeVariety, Name: "Variety", Domain: "variety.com", Reliability: model.ReliabilityTier1News, Priority: 40, Terms: "dead"},
	{Type: TypeHollywoodReporter, Name: "The Hollywood Reporter", Domain: "hollywoodreporter.com", Reliability: model.ReliabilityTier1News, Priority: 50, Terms: "dies"},
	{Type: TypeLegacy, Name: "Legacy.com", Domain: "legacy.com", Reliability: model.ReliabilityMarginalEditorial, Priority: 80, Terms: "obituary"},
	{Type: TypeFindAGrave, Name: "Find a Grave", Domain: "findagrave.com", Reliability: model.ReliabilityMarginalEditorial, Priority: 90, Terms: "memorial"},
}

// News finds the subject's obituary on one publisher and extracts the
// cause from the article body.
type News struct {
	base
	site      NewsSite
	fetcher   fetch.Fetcher
	searchURL string
}

// NewNews creates a news adapter for site.
func NewNews(site NewsSite, f fetch.Fetcher) *News {
	return &News{
		base: newBase(Descriptor{
			Type:        site.Type,
			Name:        site.Name,
			Tier:        model.TierFreeNews,
			Reliability: site.Reliability,
			MinDelay:    2 * time.Second,
			Priority:    site.Priority,
		}),
		site:      site,
		fetcher:   f,
		searchURL: duckDuckGoHTML,
	}
}

// Available reports whether a page fetcher is set.
func (n *News) Available() bool { return n.fetcher != nil }

func (n *News) baseScore() float64 {
	if n.site.Reliability == model.ReliabilityMarginalEditorial {
		return 0.45
	}
	return 0.65
}

// Lookup searches the site for an obituary and reads the first article that names the subject.
func (n *News) Lookup(ctx context.Context, subject model.Subject) (*model.LookupResult, error) {
	if err := n.gate.Wait(ctx); err != nil {
		return nil, err
	}
	query := "site:" + n.site.Domain + ` "` + subject.Name + `" ` + n.site.Terms
	hits, _, err := webSearch(ctx, n.fetcher, n.searchURL, query)
	if err != nil {
		return nil, n.observe(err)
	}

	var blocked error
	opened := 0
	for _, h := range hits {
		if opened == maxArticles {
			break
		}
		if !hostMatches(h.URL, n.site.Domain) || !MentionsSubject(h.Title+" "+h.Snippet, subject) {
			continue
		}
		opened++
		if err := n.gate.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := n.fetcher.Fetch(ctx, h.URL)
		if errors.Is(err, fetch.ErrPageNotFound) {
			continue
		}
		if err != nil {
			// Try the next article, but report the block if nothing works.
			blocked = n.observe(err)
			continue
		}

		body := page.ArticleText()
		if !MentionsSubject(body, subject) {
			continue
		}
		ex := Extract(body, subject)
		if ex.Data.Cause == "" && ex.Data.Circumstances == "" {
			continue
		}
		e := n.entry(h.URL, Score(n.baseScore(), ex))
		e.Stage = page.Stage
		e.ArchiveURL = page.ArchiveURL
		return n.found(e, ex.Data, 0), nil
	}
	if blocked != nil {
		return nil, blocked
	}
	return n.notFound("no article on " + n.site.Domain), nil
}
