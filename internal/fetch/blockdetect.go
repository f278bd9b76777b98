package fetch

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/chenders/deadonfilm-sub014/internal/resilience"
	"github.com/chenders/deadonfilm-sub014/pkg/captcha"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockStatus     BlockType = "http_status"
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockBotWall    BlockType = "bot_wall"
	BlockPaywall    BlockType = "paywall"
	BlockJSShell    BlockType = "js_shell"
)

var botWallMarkers = []string{
	"are you a robot",
	"unusual traffic from your computer",
	"access denied",
	"request blocked",
	"px-captcha",
	"datadome",
	"please enable cookies",
}

var paywallMarkers = []string{
	"subscribe to continue reading",
	"subscribers only",
	"to continue reading, subscribe",
	"you have reached your free article limit",
}

var challengeTitles = []string{
	"just a moment",
	"attention required",
	"security check",
	"are you a robot",
	"access denied",
	"verify you are human",
}

// Readable text lengths above which a successful page is treated as
// content. Challenge and bot-wall pages carry a line or two; paywalls add a
// teaser.
const (
	challengeTextMax = 1500
	paywallTextMax   = 3000
)

// DetectBlock inspects a status line, headers and body for anti-bot or
// paywall signals. Status and headers may be zero for browser-rendered HTML.
// Body markers only count on pages that look like an interstitial: an error
// status, or little readable text. A long article with a cookie banner or a
// comment-form CAPTCHA is content.
func DetectBlock(status int, header http.Header, body []byte) BlockType {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || strings.EqualFold(header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return BlockStatus
	}
	if status == http.StatusPaymentRequired {
		return BlockPaywall
	}

	errStatus := status != 0 && (status < 200 || status > 299)
	title, textLen := readable(body)
	lower := strings.ToLower(string(body))
	challengeSized := errStatus || textLen < challengeTextMax

	if challengeSized {
		switch {
		case strings.Contains(lower, "cf-browser-verification") ||
			strings.Contains(lower, "cf-chl-") ||
			strings.Contains(lower, "checking your browser") ||
			strings.Contains(lower, "cf-turnstile") && strings.Contains(title, "just a moment"):
			return BlockCloudflare
		case hasCaptchaWidget(lower):
			return BlockCaptcha
		}
		for _, m := range challengeTitles {
			if strings.Contains(title, m) {
				return BlockBotWall
			}
		}
		for _, m := range botWallMarkers {
			if strings.Contains(lower, m) {
				return BlockBotWall
			}
		}
	}
	if errStatus || textLen < paywallTextMax {
		for _, m := range paywallMarkers {
			if strings.Contains(lower, m) {
				return BlockPaywall
			}
		}
	}
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return BlockJSShell
		}
	}
	return BlockNone
}

// hasCaptchaWidget reports whether a widget that needs a site key is on the
// page. A bare api.js include with no widget is not a challenge.
func hasCaptchaWidget(lower string) bool {
	if !strings.Contains(lower, "data-sitekey") {
		return false
	}
	return strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "cf-turnstile")
}

// readable returns the lowercased title and the length of the visible text,
// ignoring scripts and styles.
func readable(body []byte) (string, int) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", len(body)
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	doc.Find("script, style, noscript, template").Remove()
	return title, len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
}

// blockError builds the error returned for a detected block.
func blockError(url string, status int, bt BlockType) *resilience.AccessBlockedError {
	return &resilience.AccessBlockedError{URL: url, StatusCode: status, Reason: string(bt)}
}

// FindChallenge locates a solvable CAPTCHA widget in the page.
func FindChallenge(pageURL string, body []byte) (captcha.Task, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return captcha.Task{}, false
	}
	widgets := []struct {
		selector string
		kind     captcha.Kind
	}{
		{".g-recaptcha[data-sitekey]", captcha.KindRecaptchaV2},
		{".h-captcha[data-sitekey]", captcha.KindHCaptcha},
		{".cf-turnstile[data-sitekey]", captcha.KindTurnstile},
		{"[data-sitekey]", captcha.KindRecaptchaV2},
	}
	for _, w := range widgets {
		if key, ok := doc.Find(w.selector).First().Attr("data-sitekey"); ok && key != "" {
			return captcha.Task{Kind: w.kind, SiteKey: key, PageURL: pageURL}, true
		}
	}
	return captcha.Task{}, false
}
