package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// stealthScript hides the most common headless-automation tells.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
window.chrome = window.chrome || {runtime: {}};
`

// injectTokenScript writes a solved token into the standard response fields
// and submits the enclosing form when there is one.
const injectTokenScript = `(token) => {
	const names = ['g-recaptcha-response', 'h-captcha-response', 'cf-turnstile-response'];
	let form = null;
	for (const name of names) {
		for (const el of document.querySelectorAll('[name="' + name + '"]')) {
			el.value = token;
			form = form || el.closest('form');
		}
	}
	if (form) { form.submit(); return true; }
	return false;
}`

// BrowserOptions configures a BrowserPool.
type BrowserOptions struct {
	Bin            string
	Headless       bool
	MaxPages       int
	UserAgent      string
	NavTimeout     time.Duration
	Settle         time.Duration
	ViewportWidth  int
	ViewportHeight int
}

// BrowserPool renders pages in a shared headless Chrome. Incognito contexts
// are reused across renders and concurrency is capped by MaxPages.
type BrowserPool struct {
	opts   BrowserOptions
	solver Solver
	log    *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	idle    chan *rod.Browser
	sem     *semaphore.Weighted
}

// NewBrowserPool creates a pool. Chrome is launched lazily on first use.
// solver may be nil, in which case challenged pages fail as blocked.
func NewBrowserPool(opts BrowserOptions, solver Solver, log *zap.Logger) *BrowserPool {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 2
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	if opts.ViewportWidth == 0 {
		opts.ViewportWidth, opts.ViewportHeight = 1366, 768
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BrowserPool{
		opts:   opts,
		solver: solver,
		log:    log,
		idle:   make(chan *rod.Browser, opts.MaxPages),
		sem:    semaphore.NewWeighted(int64(opts.MaxPages)),
	}
}

func (b *BrowserPool) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().
		Headless(b.opts.Headless).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	if b.opts.Bin != "" {
		l = l.Bin(b.opts.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "fetch: launch chrome")
	}

	browser := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := browser.Connect(); err != nil {
		return nil, eris.Wrap(err, "fetch: connect to chrome")
	}
	b.browser = browser
	b.log.Info("fetch: browser started", zap.Bool("headless", b.opts.Headless))
	return browser, nil
}

func (b *BrowserPool) acquire(ctx context.Context) (*rod.Browser, error) {
	select {
	case inc := <-b.idle:
		return inc, nil
	default:
	}
	browser, err := b.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}
	inc, err := browser.Incognito()
	if err != nil {
		return nil, eris.Wrap(err, "fetch: incognito context")
	}
	return inc, nil
}

func (b *BrowserPool) release(inc *rod.Browser) {
	select {
	case b.idle <- inc:
	default:
		_ = inc.Close()
	}
}

// Fetch renders targetURL and returns the resulting HTML.
func (b *BrowserPool) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "fetch: wait for browser slot")
	}
	defer b.sem.Release(1)

	inc, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer b.release(inc)

	page, err := inc.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create page")
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx)
	if _, err := page.EvalOnNewDocument(stealthScript); err != nil {
		return nil, eris.Wrap(err, "fetch: install stealth script")
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent, AcceptLanguage: "en-US,en"}); err != nil {
		return nil, eris.Wrap(err, "fetch: set user agent")
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.ViewportWidth,
		Height:            b.opts.ViewportHeight,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		b.log.Debug("fetch: set viewport", zap.Error(err))
	}

	html, err := b.navigate(page, targetURL)
	if err != nil {
		return nil, err
	}

	var solveCost float64
	bt := DetectBlock(0, nil, []byte(html))
	if bt == BlockCaptcha || bt == BlockCloudflare {
		html, solveCost, err = b.solveChallenge(ctx, page, targetURL, html)
		if err != nil {
			return nil, err
		}
		bt = DetectBlock(0, nil, []byte(html))
	}
	if bt != BlockNone {
		return nil, blockError(targetURL, 0, bt)
	}

	finalURL := targetURL
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}
	return &Page{
		URL:        targetURL,
		FinalURL:   finalURL,
		StatusCode: 200,
		Body:       []byte(html),
		Stage:      model.StageBrowser,
		FetchedAt:  time.Now().UTC(),
		SolveCost:  solveCost,
	}, nil
}

func (b *BrowserPool) navigate(page *rod.Page, targetURL string) (string, error) {
	p := page.Timeout(b.opts.NavTimeout)
	defer p.CancelTimeout()
	if err := p.Navigate(targetURL); err != nil {
		return "", eris.Wrapf(err, "fetch: navigate %s", targetURL)
	}
	if err := p.WaitLoad(); err != nil {
		return "", eris.Wrap(err, "fetch: wait for load")
	}
	// Give client-side challenges a moment to redirect.
	time.Sleep(b.opts.Settle)
	html, err := page.HTML()
	if err != nil {
		return "", eris.Wrap(err, "fetch: read html")
	}
	return html, nil
}

func (b *BrowserPool) solveChallenge(ctx context.Context, page *rod.Page, targetURL, html string) (string, float64, error) {
	if b.solver == nil {
		return "", 0, blockError(targetURL, 0, BlockCaptcha)
	}
	task, ok := FindChallenge(targetURL, []byte(html))
	if !ok {
		return "", 0, blockError(targetURL, 0, BlockCaptcha)
	}
	token, cost, err := b.solver.Solve(ctx, task)
	if err != nil {
		b.log.Warn("fetch: captcha not solved", zap.String("url", targetURL), zap.Error(err))
		return "", 0, blockError(targetURL, 0, BlockCaptcha)
	}

	res, err := page.Eval(injectTokenScript, token)
	if err != nil {
		return "", cost, eris.Wrap(err, "fetch: inject captcha token")
	}
	if !res.Value.Bool() {
		return "", cost, blockError(targetURL, 0, BlockCaptcha)
	}

	p := page.Timeout(b.opts.NavTimeout)
	defer p.CancelTimeout()
	if err := p.WaitLoad(); err != nil {
		return "", cost, eris.Wrap(err, "fetch: wait for load after captcha")
	}
	time.Sleep(b.opts.Settle)
	out, err := page.HTML()
	if err != nil {
		return "", cost, eris.Wrap(err, "fetch: read html")
	}
	return out, cost, nil
}

// Close shuts down pooled contexts and the browser.
func (b *BrowserPool) Close() error {
drain:
	for {
		select {
		case inc := <-b.idle:
			_ = inc.Close()
		default:
			break drain
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
