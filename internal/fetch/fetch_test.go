package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
	"github.com/chenders/deadonfilm-sub014/pkg/captcha"
	"github.com/chenders/deadonfilm-sub014/pkg/wayback"
)

const articleHTML = `<html><head><title>Obituary</title></head><body>
<nav>Home | News</nav>
<article><p>The actor died on Tuesday at a hospital in Los Angeles, his family said.</p>
<p>The cause was complications of pneumonia, according to his publicist.</p></article>
<footer>Copyright</footer></body></html>`

// longArticle wraps extra markup in an obituary long enough to read as
// content rather than an interstitial.
func longArticle(extra string) string {
	para := "<p>The actor, who appeared in more than forty films over five decades, died on Tuesday at a hospital in Los Angeles, his family said. The cause was complications of pneumonia.</p>\n"
	return `<html><head><title>Obituary</title></head><body><article>` +
		strings.Repeat(para, 20) + `</article>` + extra + `</body></html>`
}

func TestDetectBlock(t *testing.T) {
	cf := http.Header{}
	cf.Set("cf-ray", "abc123")

	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"plain article", 200, nil, articleHTML, BlockNone},
		{"cloudflare 403", 403, cf, "", BlockCloudflare},
		{"forbidden", 403, nil, "", BlockStatus},
		{"payment required", 402, nil, "", BlockPaywall},
		{"cloudflare interstitial", 200, nil, "<title>Just a moment</title>Checking your browser before accessing", BlockCloudflare},
		{"recaptcha", 200, nil, `<div class="g-recaptcha" data-sitekey="k"></div>`, BlockCaptcha},
		{"bot wall", 200, nil, "Please verify you are not a robot. Are you a robot?", BlockBotWall},
		{"paywall", 200, nil, "Subscribe to continue reading this story", BlockPaywall},
		{"js shell", 200, nil, "<noscript>Please enable JavaScript</noscript>", BlockJSShell},
		{"not found is not a block", 404, nil, "missing", BlockNone},
		{"article with cookie banner", 200, nil, longArticle(`<div class="consent">Please enable cookies to save your preferences. Access denied to tracking? Manage settings.</div>`), BlockNone},
		{"article with guestbook captcha", 200, nil, longArticle(`<form id="guestbook"><textarea name="msg"></textarea><div class="g-recaptcha" data-sitekey="site-1"></div></form><script src="https://www.google.com/recaptcha/api.js"></script>`), BlockNone},
		{"article with subscribe link", 200, nil, longArticle(`<aside>Subscribers only: the weekly newsletter</aside>`), BlockNone},
		{"script include without widget", 200, nil, `<p>Sign the guestbook</p><script src="https://www.google.com/recaptcha/api.js"></script>`, BlockNone},
		{"error page with marker", 429, nil, longArticle(`<p>Request blocked.</p>`), BlockBotWall},
		{"challenge title", 200, nil, `<html><head><title>Attention Required! | Cloudflare</title></head><body>One more step</body></html>`, BlockBotWall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBlock(tt.status, tt.header, []byte(tt.body)))
		})
	}
}

func TestFindChallenge(t *testing.T) {
	task, ok := FindChallenge("https://example.com/a", []byte(`<form><div class="h-captcha" data-sitekey="site-123"></div></form>`))
	require.True(t, ok)
	assert.Equal(t, captcha.KindHCaptcha, task.Kind)
	assert.Equal(t, "site-123", task.SiteKey)
	assert.Equal(t, "https://example.com/a", task.PageURL)

	_, ok = FindChallenge("https://example.com/a", []byte(articleHTML))
	assert.False(t, ok)
}

func TestPageArticleText(t *testing.T) {
	p := &Page{Body: []byte(articleHTML)}
	assert.Equal(t, "Obituary", p.Title())
	text := p.ArticleText()
	assert.Contains(t, text, "complications of pneumonia")
	assert.NotContains(t, text, "Copyright")
}

func newDirect() *DirectFetcher {
	return NewDirectFetcher(DirectOptions{
		Timeout: 5 * time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
}

func TestDirectFetcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte(articleHTML))
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/blocked":
			w.WriteHeader(http.StatusForbidden)
		case "/limited":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/flaky":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	d := newDirect()
	ctx := context.Background()

	page, err := d.Fetch(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, model.StageDirect, page.Stage)
	assert.Equal(t, 200, page.StatusCode)

	_, err = d.Fetch(ctx, srv.URL+"/gone")
	assert.ErrorIs(t, err, ErrPageNotFound)

	_, err = d.Fetch(ctx, srv.URL+"/blocked")
	assert.True(t, resilience.IsAccessBlocked(err))

	_, err = d.Fetch(ctx, srv.URL+"/limited")
	require.True(t, resilience.IsRateLimited(err))
	var rl *resilience.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 7*time.Second, rl.RetryAfter)

	hits.Store(0)
	_, err = d.Fetch(ctx, srv.URL+"/flaky")
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(2), hits.Load())
}

type fakeFetcher struct {
	calls atomic.Int32
	page  *Page
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*Page, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	p := *f.page
	p.URL = url
	return &p, nil
}

func TestChainFallbackOrder(t *testing.T) {
	blocked := &resilience.AccessBlockedError{URL: "u", StatusCode: 403, Reason: "http_status"}

	tests := []struct {
		name       string
		direct     *fakeFetcher
		archive    *fakeFetcher
		browser    *fakeFetcher
		wantStages []model.FetchStage
		wantStage  model.FetchStage
		wantErr    error
	}{
		{
			name:       "direct succeeds",
			direct:     &fakeFetcher{page: &Page{Stage: model.StageDirect}},
			archive:    &fakeFetcher{page: &Page{Stage: model.StageArchive}},
			browser:    &fakeFetcher{page: &Page{Stage: model.StageBrowser}},
			wantStages: []model.FetchStage{model.StageDirect},
			wantStage:  model.StageDirect,
		},
		{
			name:       "archive after block",
			direct:     &fakeFetcher{err: blocked},
			archive:    &fakeFetcher{page: &Page{Stage: model.StageArchive}},
			browser:    &fakeFetcher{page: &Page{Stage: model.StageBrowser}},
			wantStages: []model.FetchStage{model.StageDirect, model.StageArchive},
			wantStage:  model.StageArchive,
		},
		{
			name:       "browser after archive miss",
			direct:     &fakeFetcher{err: blocked},
			archive:    &fakeFetcher{err: wayback.ErrNoSnapshot},
			browser:    &fakeFetcher{page: &Page{Stage: model.StageBrowser}},
			wantStages: []model.FetchStage{model.StageDirect, model.StageArchive, model.StageBrowser},
			wantStage:  model.StageBrowser,
		},
		{
			name:       "exhausted returns original block",
			direct:     &fakeFetcher{err: blocked},
			archive:    &fakeFetcher{err: wayback.ErrNoSnapshot},
			browser:    &fakeFetcher{err: fmt.Errorf("chrome crashed")},
			wantStages: []model.FetchStage{model.StageDirect, model.StageArchive, model.StageBrowser},
			wantErr:    blocked,
		},
		{
			name:       "non-block error skips fallbacks",
			direct:     &fakeFetcher{err: ErrPageNotFound},
			archive:    &fakeFetcher{page: &Page{Stage: model.StageArchive}},
			browser:    &fakeFetcher{page: &Page{Stage: model.StageBrowser}},
			wantStages: []model.FetchStage{model.StageDirect},
			wantErr:    ErrPageNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChain(tt.direct, WithArchive(tt.archive), WithBrowser(tt.browser), WithChainLogger(zap.NewNop()))
			page, stages, err := c.FetchTraced(context.Background(), "https://example.com/obit")
			assert.Equal(t, tt.wantStages, stages)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, page)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStage, page.Stage)
			}
			for _, f := range []*fakeFetcher{tt.direct, tt.archive, tt.browser} {
				assert.LessOrEqual(t, f.calls.Load(), int32(1))
			}
		})
	}
}

func TestChainWithoutFallbacks(t *testing.T) {
	blocked := &resilience.AccessBlockedError{URL: "u", StatusCode: 403}
	c := NewChain(&fakeFetcher{err: blocked})
	_, stages, err := c.FetchTraced(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, blocked)
	assert.Equal(t, []model.FetchStage{model.StageDirect}, stages)
}

func TestArchiveFetcher(t *testing.T) {
	body := articleHTML + strings.Repeat("<p>padding paragraph for the archive copy</p>", 20)
	content := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer content.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wayback/available", r.URL.Path)
		_, _ = fmt.Fprintf(w, `{"archived_snapshots":{"closest":{"available":true,"status":"200","timestamp":"20200101000000","url":%q}}}`, content.URL+"/snap")
	}))
	defer api.Close()

	a := NewArchiveFetcher(wayback.NewClient(wayback.WithBaseURL(api.URL)), newDirect())
	page, err := a.Fetch(context.Background(), "https://news.example.com/obit")
	require.NoError(t, err)
	assert.Equal(t, model.StageArchive, page.Stage)
	assert.Equal(t, content.URL+"/snap", page.ArchiveURL)
	assert.Equal(t, "https://news.example.com/obit", page.URL)
}

func TestArchiveFetcherRejectsStub(t *testing.T) {
	content := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>tiny</html>"))
	}))
	defer content.Close()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"archived_snapshots":{"closest":{"available":true,"status":"200","url":%q}}}`, content.URL)
	}))
	defer api.Close()

	a := NewArchiveFetcher(wayback.NewClient(wayback.WithBaseURL(api.URL)), newDirect())
	_, err := a.Fetch(context.Background(), "https://news.example.com/obit")
	assert.True(t, IsNoSnapshot(err))
}

type fakeSolver struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSolver) Solve(_ context.Context, _ captcha.Task) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "token", nil
}

func TestBoundedSolver(t *testing.T) {
	task := captcha.Task{Kind: captcha.KindRecaptchaV2, SiteKey: "k", PageURL: "https://example.com"}

	t.Run("charges budget on success", func(t *testing.T) {
		gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 1, MaxSubjectCost: 1}, zap.NewNop())
		client := &fakeSolver{}
		s := NewBoundedSolver(client, time.Second, 0.003, 0.01, nil)
		ctx := budget.WithSpender(context.Background(), gov, "nm1")

		token, cost, err := s.Solve(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, "token", token)
		assert.InDelta(t, 0.003, cost, 1e-9)
		assert.InDelta(t, 0.003, gov.Subject("nm1").Cost, 1e-9)
	})

	t.Run("failed solve is free", func(t *testing.T) {
		gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 1}, zap.NewNop())
		s := NewBoundedSolver(&fakeSolver{err: errors.New("ERROR_CAPTCHA_UNSOLVABLE")}, time.Second, 0.003, 0, nil)
		_, cost, err := s.Solve(budget.WithSpender(context.Background(), gov, "nm1"), task)
		require.Error(t, err)
		assert.Zero(t, cost)
		assert.Zero(t, gov.Total())
	})

	t.Run("refuses without budget", func(t *testing.T) {
		client := &fakeSolver{}
		s := NewBoundedSolver(client, time.Second, 0.003, 0, nil)
		_, _, err := s.Solve(context.Background(), task)
		assert.ErrorIs(t, err, ErrSolveNotAllowed)
		assert.Zero(t, client.calls.Load())
	})

	t.Run("refuses over per-solve cap", func(t *testing.T) {
		gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 1}, zap.NewNop())
		client := &fakeSolver{}
		s := NewBoundedSolver(client, time.Second, 0.05, 0.01, nil)
		_, _, err := s.Solve(budget.WithSpender(context.Background(), gov, "nm1"), task)
		assert.ErrorIs(t, err, ErrSolveNotAllowed)
		assert.Zero(t, client.calls.Load())
	})

	t.Run("metered spender sees the solve", func(t *testing.T) {
		gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 1}, zap.NewNop())
		s := NewBoundedSolver(&fakeSolver{}, time.Second, 0.003, 0, nil)
		ctx, meter := budget.WithMeteredSpender(context.Background(), gov, "nm1")
		_, _, err := s.Solve(ctx, task)
		require.NoError(t, err)
		assert.InDelta(t, 0.003, meter.Total(), 1e-9)
	})

	t.Run("refuses when ceiling reached", func(t *testing.T) {
		gov := budget.NewGovernor(budget.Limits{MaxTotalCost: 0.001}, zap.NewNop())
		client := &fakeSolver{}
		s := NewBoundedSolver(client, time.Second, 0.003, 0, nil)
		_, _, err := s.Solve(budget.WithSpender(context.Background(), gov, "nm1"), task)
		assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
		assert.Zero(t, client.calls.Load())
	})
}
