// Package stealth implements the anti-detection fetch executor: a rendered
// fetch with a rotated browser fingerprint, suppressed automation
// telltales, bot-wall scanning with humanized interaction, a captcha hook,
// per-domain cookie persistence, and per-domain request pacing.
package stealth

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Config controls stealth navigation.
type Config struct {
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	RequestsPerMinute int
}

// Fetcher implements scrape.Executor with anti-detection countermeasures.
type Fetcher struct {
	cfg         Config
	gate        scrape.AdmissionGate
	sessions    *SessionManager
	solver      scrape.CaptchaSolver
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a stealth Fetcher. A nil solver skips captcha pages.
func New(cfg Config, g scrape.AdmissionGate, solver scrape.CaptchaSolver, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	if solver == nil {
		solver = SkipSolver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		gate:        g,
		sessions:    NewSessionManager(cfg.RequestsPerMinute),
		solver:      solver,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
}

// Close tears down the browser allocator.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Sessions exposes the per-domain identity manager (the auth handler feeds
// cookies through it).
func (f *Fetcher) Sessions() *SessionManager { return f.sessions }

// Method reports the strategy tag.
func (f *Fetcher) Method() scrape.Strategy { return scrape.StrategyStealth }

// Fetch renders the page under a rotated identity. The per-domain limiter
// runs before gate admission so a pacing sleep never pins a browser slot.
func (f *Fetcher) Fetch(ctx context.Context, req scrape.FetchRequest) (scrape.FetchResult, error) {
	domain := scrape.Domain(req.URL)
	sess := f.sessions.Get(domain)

	if err := sess.Limiter().Wait(ctx); err != nil {
		return scrape.FetchResult{}, fmt.Errorf("domain pacing: %w", err)
	}

	release, err := f.gate.Acquire(ctx)
	if err != nil {
		return scrape.FetchResult{}, err
	}
	defer release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := propagateCancel(ctx, taskCancel)
	defer stop()

	start := time.Now()
	var html string
	var finalURL string

	runActions := []chromedp.Action{
		f.identityAction(sess),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, runActions...); err != nil {
		return scrape.FetchResult{}, fmt.Errorf("stealth navigation: %w", err)
	}

	result := scrape.FetchResult{
		URL:        req.URL,
		FinalURL:   finalURL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Strategy:   scrape.StrategyStealth,
	}

	scan := ScanForBotWall([]byte(html))
	result.AntiBotConfidence = scan.Confidence
	if scan.Detected() {
		f.logger.Debug("bot wall suspected, humanizing",
			zap.String("url", req.URL),
			zap.Float64("confidence", scan.Confidence),
			zap.String("indicators", scan.IndicatorSummary()),
		)
		if err := chromedp.Run(taskCtx, humanizeActions()...); err != nil {
			return scrape.FetchResult{}, fmt.Errorf("humanized interaction: %w", err)
		}
		if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return scrape.FetchResult{}, fmt.Errorf("re-read content: %w", err)
		}
		scan = ScanForBotWall([]byte(html))
		result.AntiBotConfidence = scan.Confidence
	}

	if kind, found := DetectCaptcha([]byte(html)); found {
		result.CaptchaDetected = true
		if err := f.solver.Solve(ctx, req.URL, kind); err != nil {
			return scrape.FetchResult{}, &scrape.BlockedError{
				URL:        req.URL,
				Strategy:   scrape.StrategyStealth,
				StatusCode: http.StatusOK,
				Indicator:  fmt.Sprintf("captcha unsolved: %v", err),
			}
		}
		// Solver claims success: the page should have moved past the gate.
		if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return scrape.FetchResult{}, fmt.Errorf("post-captcha read: %w", err)
		}
	}

	if scan.Detected() {
		return scrape.FetchResult{}, &scrape.BlockedError{
			URL:        req.URL,
			Strategy:   scrape.StrategyStealth,
			StatusCode: http.StatusOK,
			Indicator:  "anti-bot wall: " + scan.IndicatorSummary(),
		}
	}

	f.persistCookies(taskCtx, domain)

	result.Body = []byte(html)
	result.Duration = time.Since(start)
	return result, nil
}

// identityAction applies the session fingerprint, the telltale-suppression
// script, and any stored cookies before navigation.
func (f *Fetcher) identityAction(sess *Session) chromedp.Action {
	fp := sess.Fingerprint
	cookies := sess.Cookies
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if err := emulation.SetUserAgentOverride(fp.UserAgent).
			WithAcceptLanguage(fp.Locale).
			WithPlatform(fp.Platform).Do(ctx); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(fp.Width, fp.Height, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if err := emulation.SetTimezoneOverride(fp.Timezone).Do(ctx); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
		if len(cookies) > 0 {
			if err := network.SetCookies(cookies).Do(ctx); err != nil {
				return fmt.Errorf("restore cookies: %w", err)
			}
		}
		return nil
	})
}

// humanizeActions emits a few randomized pointer moves and a scroll, enough
// to satisfy interaction-based challenge heuristics.
func humanizeActions() []chromedp.Action {
	actions := make([]chromedp.Action, 0, 8)
	x, y := float64(200+rand.IntN(400)), float64(150+rand.IntN(300))
	for i := 0; i < 3; i++ {
		x += float64(rand.IntN(120) - 60)
		y += float64(rand.IntN(80) - 40)
		moveX, moveY := x, y
		actions = append(actions,
			chromedp.ActionFunc(func(ctx context.Context) error {
				return input.DispatchMouseEvent(input.MouseMoved, moveX, moveY).Do(ctx)
			}),
			chromedp.Sleep(time.Duration(80+rand.IntN(170))*time.Millisecond),
		)
	}
	actions = append(actions,
		chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", 200+rand.IntN(500)), nil),
		chromedp.Sleep(time.Duration(300+rand.IntN(500))*time.Millisecond),
	)
	return actions
}

// persistCookies snapshots the browser's cookie jar into the domain session.
// Failures only cost cookie reuse, never the fetch.
func (f *Fetcher) persistCookies(taskCtx context.Context, domain string) {
	var cookies []*network.Cookie
	err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		f.logger.Debug("cookie snapshot failed", zap.String("domain", domain), zap.Error(err))
		return
	}
	f.sessions.StoreCookies(domain, cookies)
}

// propagateCancel aborts the chromedp task when the caller's context ends.
func propagateCancel(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
