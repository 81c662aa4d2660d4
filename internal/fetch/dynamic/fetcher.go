// Package dynamic implements the rendered fetch executor: headless Chrome
// navigation via chromedp with JavaScript executed. Every fetch passes
// through the process-wide admission gate because each run costs a browser
// target.
package dynamic

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Config controls headless navigation.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is a brief pause after DOM-ready; we deliberately do not
	// wait for network idle, which unbounded SPAs never reach.
	SettleDelay time.Duration
}

// Fetcher implements scrape.Executor with chromedp.
type Fetcher struct {
	cfg         Config
	gate        scrape.AdmissionGate
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Fetcher backed by a shared Chrome exec allocator.
func New(cfg Config, gate scrape.AdmissionGate) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		gate:        gate,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close tears down the allocator and every browser it spawned.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Method reports the strategy tag.
func (f *Fetcher) Method() scrape.Strategy { return scrape.StrategyDynamic }

// Fetch renders the page and returns the full DOM snapshot.
func (f *Fetcher) Fetch(ctx context.Context, req scrape.FetchRequest) (scrape.FetchResult, error) {
	release, err := f.gate.Acquire(ctx)
	if err != nil {
		return scrape.FetchResult{}, err
	}
	defer release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	// The navigation timeout also bounds a stuck fetch during pause: the
	// worker's ctx cancels the run, and the deadline is the backstop.
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := propagateCancel(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.setupAction(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return scrape.FetchResult{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, responseURL := meta.snapshot(req.URL, finalURL)
	result := scrape.FetchResult{
		URL:        req.URL,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Strategy:   scrape.StrategyDynamic,
		Duration:   time.Since(start),
	}
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return scrape.FetchResult{}, &scrape.BlockedError{
			URL:        req.URL,
			Strategy:   scrape.StrategyDynamic,
			StatusCode: status,
			Indicator:  http.StatusText(status),
		}
	}
	if status < 200 || status >= 300 {
		return scrape.FetchResult{}, &scrape.HTTPStatusError{URL: req.URL, StatusCode: status}
	}
	return result, nil
}

// propagateCancel cancels the chromedp task when the caller's context ends,
// so pausing a session aborts in-flight navigations.
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

func (f *Fetcher) setupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// responseMeta captures the document response's status and headers from CDP
// network events; chromedp itself only yields the DOM.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(http.Header, len(m.headers))
	for k, values := range m.headers {
		for _, v := range values {
			headers.Add(k, v)
		}
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 1 {
			headers[key] = values[0]
		} else if len(values) > 1 {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
