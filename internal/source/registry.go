package source

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// Source types of the built-in adapters.
const (
	TypeWikidata           model.SourceType = "wikidata"
	TypeWikipedia          model.SourceType = "wikipedia"
	TypeChroniclingAmerica model.SourceType = "chronicling_america"
	TypeDuckDuckGo         model.SourceType = "duckduckgo"
	TypeAPNews             model.SourceType = "ap_news"
	TypeGuardian           model.SourceType = "guardian"
	TypeBBCNews            model.SourceType = "bbc_news"
	TypeVariety            model.SourceType = "variety"
	TypeHollywoodReporter  model.SourceType = "hollywood_reporter"
	TypeLegacy             model.SourceType = "legacy_com"
	TypeFindAGrave         model.SourceType = "find_a_grave"
	TypeGoogleSearch       model.SourceType = "google_search"
	TypeJinaSearch         model.SourceType = "jina_search"
	TypePerplexity         model.SourceType = "perplexity"
	TypeClaude             model.SourceType = "claude"
	TypeGemini             model.SourceType = "gemini"
)

// Registry holds the adapters known to a run, keyed by source type.
type Registry struct {
	mu       sync.RWMutex
	sources  map[model.SourceType]Source
	disabled map[model.SourceType]bool
}

// NewRegistry creates a registry holding srcs.
func NewRegistry(srcs ...Source) *Registry {
	r := &Registry{
		sources:  make(map[model.SourceType]Source, len(srcs)),
		disabled: make(map[model.SourceType]bool),
	}
	for _, s := range srcs {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Descriptor().Type] = s
}

// Get returns a source by type.
func (r *Registry) Get(t model.SourceType) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[t]
	return s, ok
}

// Lookup resolves a source by its type name, as given on the command line.
func (r *Registry) Lookup(name string) (Source, error) {
	s, ok := r.Get(model.SourceType(name))
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return s, nil
}

// List returns every registered source in tier, priority and name order.
func (r *Registry) List() []Source {
	r.mu.RLock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sortSources(out)
	return out
}

// Configure applies per-source overrides. Unknown source types are an
// error so typos in configuration surface early.
func (r *Registry) Configure(overrides map[string]Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, o := range overrides {
		t := model.SourceType(name)
		s, ok := r.sources[t]
		if !ok {
			return eris.Errorf("source: override for unknown source %q", name)
		}
		if c, ok := s.(configurable); ok {
			c.apply(o)
		}
		r.disabled[t] = o.Disabled
	}
	return nil
}

// Enabled reports whether a source is registered, not disabled and has
// its credentials.
func (r *Registry) Enabled(s Source) bool {
	r.mu.RLock()
	off := r.disabled[s.Descriptor().Type]
	r.mu.RUnlock()
	return !off && s.Available()
}

// ForTier returns the available sources of one tier in priority order.
// Sources whose credentials are missing are skipped.
func (r *Registry) ForTier(t model.Tier) []Source {
	var out []Source
	for _, s := range r.List() {
		if s.Descriptor().Tier == t && r.Enabled(s) {
			out = append(out, s)
		}
	}
	return out
}

func sortSources(srcs []Source) {
	sort.SliceStable(srcs, func(i, j int) bool {
		a, b := srcs[i].Descriptor(), srcs[j].Descriptor()
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Type < b.Type
	})
}
