// Package wikidata queries the Wikidata SPARQL endpoint for death facts.
package wikidata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

const defaultEndpoint = "https://query.wikidata.org/sparql"

// ErrNoEntity is returned when no person matches the query.
var ErrNoEntity = eris.New("wikidata: no matching entity")

// Query identifies a person by IMDb ID, or by English label and death year.
type Query struct {
	IMDbID    string
	Name      string
	DeathYear int
}

// Facts are the death-related statements of one entity.
type Facts struct {
	EntityURI    string
	Label        string
	Causes       []string
	Manners      []string
	Places       []string
	DeathDate    string
	WikipediaURL string
}

// Client performs death-fact lookups.
type Client interface {
	DeathFacts(ctx context.Context, q Query) (*Facts, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithEndpoint overrides the SPARQL endpoint.
func WithEndpoint(u string) Option {
	return func(c *httpClient) { c.endpoint = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	endpoint  string
	userAgent string
	http      *http.Client
	retry     resilience.RetryConfig
}

// NewClient creates a Wikidata client. Wikimedia requires a descriptive
// user agent with contact details.
func NewClient(userAgent string, opts ...Option) Client {
	c := &httpClient{
		endpoint:  defaultEndpoint,
		userAgent: userAgent,
		http:      &http.Client{Timeout: 30 * time.Second},
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("wikidata", "sparql")
	return c
}

const selectClause = `SELECT ?person ?personLabel ?causeLabel ?mannerLabel ?placeLabel ?death ?article WHERE {
  %s
  OPTIONAL { ?person wdt:P509 ?cause . }
  OPTIONAL { ?person wdt:P1196 ?manner . }
  OPTIONAL { ?person wdt:P20 ?place . }
  OPTIONAL { ?person wdt:P570 ?death . }
  OPTIONAL { ?article schema:about ?person ; schema:isPartOf <https://en.wikipedia.org/> . }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
} LIMIT 50`

// BuildQuery renders the SPARQL text for q.
func BuildQuery(q Query) (string, error) {
	switch {
	case q.IMDbID != "":
		return fmt.Sprintf(selectClause, fmt.Sprintf(`?person wdt:P345 %q .`, q.IMDbID)), nil
	case q.Name != "" && q.DeathYear > 0:
		match := fmt.Sprintf(`?person rdfs:label %q@en ; wdt:P31 wd:Q5 ; wdt:P570 ?d . FILTER(YEAR(?d) = %d)`,
			q.Name, q.DeathYear)
		return fmt.Sprintf(selectClause, match), nil
	}
	return "", eris.New("wikidata: query needs an IMDb ID or a name and death year")
}

func (c *httpClient) DeathFacts(ctx context.Context, q Query) (*Facts, error) {
	sparql, err := BuildQuery(q)
	if err != nil {
		return nil, err
	}
	reqURL := c.endpoint + "?" + url.Values{"query": {sparql}, "format": {"json"}}.Encode()

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "wikidata: create request")
		}
		req.Header.Set("Accept", "application/sparql-results+json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "wikidata: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, eris.Wrap(err, "wikidata: read response")
		}
		if err := resilience.CheckStatus(resp, b); err != nil {
			return nil, eris.Wrap(err, "wikidata: sparql")
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return parseFacts(body)
}

// parseFacts folds result rows into one Facts, keeping the first entity.
func parseFacts(body []byte) (*Facts, error) {
	rows := gjson.GetBytes(body, "results.bindings").Array()
	if len(rows) == 0 {
		return nil, ErrNoEntity
	}

	f := &Facts{EntityURI: rows[0].Get("person.value").String()}
	for _, row := range rows {
		if row.Get("person.value").String() != f.EntityURI {
			continue
		}
		if f.Label == "" {
			f.Label = row.Get("personLabel.value").String()
		}
		if f.DeathDate == "" {
			f.DeathDate = row.Get("death.value").String()
		}
		if f.WikipediaURL == "" {
			f.WikipediaURL = row.Get("article.value").String()
		}
		f.Causes = appendLabel(f.Causes, row.Get("causeLabel.value").String())
		f.Manners = appendLabel(f.Manners, row.Get("mannerLabel.value").String())
		f.Places = appendLabel(f.Places, row.Get("placeLabel.value").String())
	}
	return f, nil
}

// appendLabel adds a label once, skipping bare Q-ids that have no English
// label.
func appendLabel(list []string, label string) []string {
	if label == "" || isQID(label) {
		return list
	}
	for _, l := range list {
		if strings.EqualFold(l, label) {
			return list
		}
	}
	return append(list, label)
}

func isQID(s string) bool {
	if len(s) < 2 || s[0] != 'Q' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
