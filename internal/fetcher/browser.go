package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/extract"
	"github.com/rgaudreau/dealstalker/internal/pacing"
	"github.com/rgaudreau/dealstalker/internal/types"
)

// cardWaitTimeout bounds how long a fetch waits for the result grid to
// render before capturing whatever is there.
const cardWaitTimeout = 10 * time.Second

// BrowserFetcher implements Fetcher with headless Chromium driven over
// CDP. A single stealth page is reused for the whole run so cookies
// and cache behave like one continuous browsing session.
type BrowserFetcher struct {
	browser  *rod.Browser
	page     *rod.Page
	cfg      *config.Config
	profile  *StealthConfig
	sessions *SessionStore
	detector *ChallengeDetector
	gov      pacing.Governor
	proxyMgr *ProxyManager
	cardLoc  extract.Locator
	logger   *slog.Logger
	mu       sync.Mutex
}

// BrowserOption configures the BrowserFetcher.
type BrowserOption func(*BrowserFetcher)

// WithStealthProfile overrides the default fingerprint profile.
func WithStealthProfile(profile *StealthConfig) BrowserOption {
	return func(bf *BrowserFetcher) { bf.profile = profile }
}

// WithBrowserProxy sets the proxy manager for browser traffic.
func WithBrowserProxy(pm *ProxyManager) BrowserOption {
	return func(bf *BrowserFetcher) { bf.proxyMgr = pm }
}

// NewBrowserFetcher launches Chromium and connects to it. The result
// page itself is created lazily on the first Fetch.
func NewBrowserFetcher(cfg *config.Config, gov pacing.Governor, logger *slog.Logger, opts ...BrowserOption) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:      cfg,
		profile:  DefaultStealthConfig(),
		sessions: NewSessionStore(cfg.Session.CookiePath, logger),
		detector: NewChallengeDetector(cfg.Selectors, logger),
		gov:      gov,
		cardLoc:  extract.ParseLocator(cfg.Selectors.ProductCard),
		logger:   logger.With("component", "browser_fetcher"),
	}
	if cfg.Proxy.Enabled && len(cfg.Proxy.URLs) > 0 {
		bf.proxyMgr = NewProxyManager(&cfg.Proxy, logger)
	}
	for _, opt := range opts {
		opt(bf)
	}

	launchURL, err := bf.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	bf.browser = browser

	bf.logger.Info("browser fetcher ready",
		"headless", cfg.Fetcher.Headless,
		"proxy", bf.proxyMgr != nil,
	)
	return bf, nil
}

// launchBrowser starts a Chromium instance with flags that suppress
// the obvious automation tells.
func (bf *BrowserFetcher) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(bf.cfg.Fetcher.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-web-security").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-blink-features", "AutomationControlled")

	if bf.profile.WindowSize != "" {
		l = l.Set("window-size", bf.profile.WindowSize)
	}

	if bf.proxyMgr != nil {
		if proxyURL := bf.proxyMgr.Next(); proxyURL != nil {
			l = l.Proxy(proxyURL.String())
		}
	}

	return l.Launch()
}

// Fetch navigates to the request URL and returns the rendered page.
// Challenge interstitials are returned as ordinary responses; the
// caller classifies them.
func (bf *BrowserFetcher) Fetch(ctx context.Context, req *types.PageRequest) (*types.Response, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	start := time.Now()

	page, err := bf.resultPage()
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}

	timeout := bf.cfg.Engine.NavTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	if err := page.Context(ctx).Timeout(timeout).Navigate(req.URLString()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", types.ErrNavigationTimeout, err)
		}
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}

	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		bf.logger.Warn("page stability timeout, continuing", "url", req.URLString(), "error", err)
	}

	bf.waitForCards(page)

	resp, err := bf.capture(page, req, start)
	if err != nil {
		return nil, err
	}

	// No gestures on a challenge page; the caller decides how long to
	// back off before trying again.
	if bf.detector.IsBlocked(resp) {
		return resp, nil
	}

	if bf.gov != nil {
		bf.gov.Humanize(ctx, rodGestures{page: page})
		// Recapture so lazily loaded content ends up in the body.
		resp, err = bf.capture(page, req, start)
		if err != nil {
			return nil, err
		}
	}

	bf.logger.Debug("browser fetch complete",
		"url", req.URLString(),
		"final_url", resp.FinalURL,
		"size", len(resp.Body),
		"duration", resp.FetchDuration,
	)

	return resp, nil
}

// Close persists the session, then shuts the browser down.
func (bf *BrowserFetcher) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.page != nil {
		if cookies, err := bf.page.Cookies(nil); err == nil && len(cookies) > 0 {
			if err := bf.sessions.Save(fromNetworkCookies(cookies)); err != nil {
				bf.logger.Warn("could not persist session", "error", err)
			}
		}
		_ = bf.page.Close()
		bf.page = nil
	}
	if bf.browser != nil {
		return bf.browser.Close()
	}
	return nil
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return "browser"
}

// resultPage returns the long-lived stealth page, creating and priming
// it on first use.
func (bf *BrowserFetcher) resultPage() (*rod.Page, error) {
	if bf.page != nil {
		return bf.page, nil
	}

	page, err := stealth.Page(bf.browser)
	if err != nil {
		return nil, fmt.Errorf("stealth page: %w", err)
	}

	if _, err := page.EvalOnNewDocument(bf.profile.StealthJS()); err != nil {
		bf.logger.Warn("fingerprint script injection failed", "error", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      bf.userAgent(),
		AcceptLanguage: bf.profile.AcceptLanguage(),
		Platform:       bf.profile.Platform,
	}); err != nil {
		bf.logger.Warn("failed to set user agent", "error", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             bf.profile.ViewportWidth,
		Height:            bf.profile.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		bf.logger.Warn("failed to set viewport", "error", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: bf.profile.Timezone}).Call(page); err != nil {
		bf.logger.Warn("failed to set timezone", "error", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: bf.profile.Language}).Call(page); err != nil {
		bf.logger.Warn("failed to set locale", "error", err)
	}
	if err := (proto.EmulationSetGeolocationOverride{
		Latitude:  gson.Num(bf.profile.Latitude),
		Longitude: gson.Num(bf.profile.Longitude),
		Accuracy:  gson.Num(100),
	}).Call(page); err != nil {
		bf.logger.Warn("failed to set geolocation", "error", err)
	}

	if cookies := bf.sessions.Load(); len(cookies) > 0 {
		if err := page.SetCookies(cookieParams(cookies)); err != nil {
			bf.logger.Warn("could not restore session cookies", "error", err)
		} else {
			bf.logger.Info("session restored", "cookies", len(cookies))
		}
	}

	bf.page = page
	return page, nil
}

// waitForCards waits for the result grid to attach. Never fatal: empty
// result pages and challenge pages legitimately have no cards.
func (bf *BrowserFetcher) waitForCards(page *rod.Page) {
	if bf.cardLoc.Expr == "" {
		return
	}
	var err error
	if bf.cardLoc.Kind == extract.KindXPath {
		_, err = page.Timeout(cardWaitTimeout).ElementX(bf.cardLoc.Expr)
	} else {
		_, err = page.Timeout(cardWaitTimeout).Element(bf.cardLoc.Expr)
	}
	if err != nil {
		bf.logger.Warn("result cards did not appear", "selector", bf.cardLoc.Expr, "error", err)
	}
}

// capture snapshots the page into a Response.
func (bf *BrowserFetcher) capture(page *rod.Page, req *types.PageRequest, start time.Time) (*types.Response, error) {
	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}

	finalURL := req.URLString()
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	// Rod doesn't surface the document status code; challenge pages
	// are detected from content instead.
	return types.NewBrowserResponse(req, http.StatusOK, []byte(html), finalURL, time.Since(start)), nil
}

func (bf *BrowserFetcher) userAgent() string {
	uas := bf.cfg.Fetcher.UserAgents
	if len(uas) == 0 {
		return "dealstalker/" + config.Version
	}
	return uas[rand.Intn(len(uas))]
}

// cookieParams converts stored cookies for page restoration.
func cookieParams(cookies []Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, p)
	}
	return params
}

// fromNetworkCookies converts page cookies for persistence. Session
// cookies are stored without an expiry.
func fromNetworkCookies(cookies []*proto.NetworkCookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		stored := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			stored.Expires = c.Expires
		}
		out = append(out, stored)
	}
	return out
}

// rodGestures adapts a rod page to the gesture surface the pacing
// governor drives.
type rodGestures struct {
	page *rod.Page
}

func (g rodGestures) MoveMouse(x, y float64) error {
	return g.page.Mouse.MoveLinear(proto.Point{X: x, Y: y}, 8)
}

func (g rodGestures) ScrollBy(deltaY int) error {
	_, err := g.page.Eval(fmt.Sprintf(`window.scrollBy(0, %d)`, deltaY))
	return err
}

func (g rodGestures) ScrollTop() error {
	_, err := g.page.Eval(`window.scrollTo(0, 0)`)
	return err
}
