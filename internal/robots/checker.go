// Package robots answers robots.txt questions with a per-host cache.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/scrape"
)

// maxRobotsBody caps how much of a robots.txt response is read.
const maxRobotsBody = 1 << 20

// Checker fetches, parses, and caches robots.txt per host. Unreachable or
// malformed files fail open: the crawl proceeds as if allowed.
type Checker struct {
	client *http.Client
	cache  sync.Map
	logger *zap.Logger
}

// New builds a Checker. A nil client gets a 10s-timeout default.
func New(client *http.Client, logger *zap.Logger) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{client: client, logger: logger}
}

// Check reports whether userAgent may fetch rawURL, along with any
// crawl-delay directive and sitemap references for the host.
func (c *Checker) Check(ctx context.Context, rawURL, userAgent string) (scrape.RobotsDecision, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return scrape.RobotsDecision{}, fmt.Errorf("parse url: %w", err)
	}

	data, err := c.load(ctx, parsed, userAgent)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return scrape.RobotsDecision{Allowed: true}, nil
	}

	decision := scrape.RobotsDecision{Allowed: true, Sitemaps: data.Sitemaps}
	group := data.FindGroup(userAgent)
	if group == nil {
		return decision, nil
	}
	decision.Allowed = group.Test(parsed.Path)
	decision.CrawlDelay = group.CrawlDelay
	return decision, nil
}

func (c *Checker) load(ctx context.Context, parsed *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if data, ok := c.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	c.cache.Store(hostKey, data)
	return data, nil
}

// AllowAll ignores robots.txt entirely, for sessions configured that way.
type AllowAll struct{}

// Check always permits the fetch.
func (AllowAll) Check(context.Context, string, string) (scrape.RobotsDecision, error) {
	return scrape.RobotsDecision{Allowed: true}, nil
}

var (
	_ scrape.RobotsChecker = (*Checker)(nil)
	_ scrape.RobotsChecker = AllowAll{}
)
