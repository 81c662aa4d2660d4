package stealth

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Captcha types detected by DOM signature.
const (
	CaptchaRecaptcha = "recaptcha"
	CaptchaHcaptcha  = "hcaptcha"
	CaptchaTurnstile = "turnstile"
	CaptchaGeneric   = "generic"
)

var captchaSelectors = []struct {
	selector string
	kind     string
}{
	{`.g-recaptcha, iframe[src*="recaptcha"]`, CaptchaRecaptcha},
	{`.h-captcha, iframe[src*="hcaptcha"]`, CaptchaHcaptcha},
	{`.cf-turnstile, iframe[src*="turnstile"]`, CaptchaTurnstile},
	{`#captcha, form[action*="captcha"]`, CaptchaGeneric},
}

// DetectCaptcha inspects the DOM for known captcha widgets.
func DetectCaptcha(body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	for _, c := range captchaSelectors {
		if doc.Find(c.selector).Length() > 0 {
			return c.kind, true
		}
	}
	return "", false
}

// WaitSolver gives a human (or an attached debugger) time to solve the
// captcha in the live browser before the fetch re-reads the page.
type WaitSolver struct {
	Wait time.Duration
}

// Solve blocks for the configured window.
func (s WaitSolver) Solve(ctx context.Context, _, _ string) error {
	wait := s.Wait
	if wait <= 0 {
		wait = 30 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SkipSolver refuses captcha pages outright.
type SkipSolver struct{}

// Solve always fails, which surfaces the page as blocked.
func (SkipSolver) Solve(_ context.Context, pageURL, kind string) error {
	return fmt.Errorf("captcha (%s) on %s: solving disabled", kind, pageURL)
}

// SolverFunc adapts a function (e.g. an external solving service call) to
// the CaptchaSolver interface.
type SolverFunc func(ctx context.Context, pageURL, kind string) error

// Solve invokes the wrapped function.
func (f SolverFunc) Solve(ctx context.Context, pageURL, kind string) error {
	return f(ctx, pageURL, kind)
}

var (
	_ scrape.CaptchaSolver = WaitSolver{}
	_ scrape.CaptchaSolver = SkipSolver{}
	_ scrape.CaptchaSolver = SolverFunc(nil)
)
