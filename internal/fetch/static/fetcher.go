// Package static implements the lightweight fetch executor: a plain HTTP
// GET through Colly with no script execution. It is the cheapest strategy
// and fails closed on non-2xx responses and bot-wall pages.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

// Fetcher implements scrape.Executor over a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with pooled connections.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Method reports the strategy tag.
func (f *Fetcher) Method() scrape.Strategy { return scrape.StrategyStatic }

// Fetch executes a single GET and returns the unrendered body.
func (f *Fetcher) Fetch(ctx context.Context, req scrape.FetchRequest) (scrape.FetchResult, error) {
	var (
		result   scrape.FetchResult
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = scrape.FetchResult{
			URL:        req.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Strategy:   scrape.StrategyStatic,
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = statusError(req.URL, r.StatusCode)
			return
		}
		fetchErr = err
	})

	if err := visit(ctx, collector, req.URL); err != nil {
		return scrape.FetchResult{}, err
	}
	if fetchErr != nil {
		return scrape.FetchResult{}, fetchErr
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return scrape.FetchResult{}, statusError(req.URL, result.StatusCode)
	}
	if indicator := botWallIndicator(result.Body); indicator != "" {
		return scrape.FetchResult{}, &scrape.BlockedError{
			URL:        req.URL,
			Strategy:   scrape.StrategyStatic,
			StatusCode: result.StatusCode,
			Indicator:  indicator,
		}
	}
	return result, nil
}

// visit runs the collector while honoring context cancellation; Colly's
// Visit has no context hook of its own.
func visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("static visit failed: %w", err)
		}
		return nil
	}
}

// statusError classifies non-2xx codes: 403 and 429 are blocking signals
// the cascade should not retry with the same strategy.
func statusError(url string, code int) error {
	switch code {
	case http.StatusForbidden:
		return &scrape.BlockedError{URL: url, Strategy: scrape.StrategyStatic, StatusCode: code, Indicator: "forbidden"}
	case http.StatusTooManyRequests:
		return &scrape.BlockedError{URL: url, Strategy: scrape.StrategyStatic, StatusCode: code, Indicator: "rate limit: too many requests"}
	default:
		return &scrape.HTTPStatusError{URL: url, StatusCode: code}
	}
}

// Bot-wall phrases that show up in 200 responses from interstitial pages.
var botWallMarkers = []string{
	"access denied",
	"verify you are human",
	"checking your browser",
	"enable javascript and cookies",
	"attention required! | cloudflare",
}

func botWallIndicator(body []byte) string {
	if len(body) == 0 || len(body) > 64*1024 {
		// Large bodies are real pages; interstitials are tiny.
		return ""
	}
	lower := bytes.ToLower(body)
	for _, marker := range botWallMarkers {
		if bytes.Contains(lower, []byte(marker)) {
			return marker
		}
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
