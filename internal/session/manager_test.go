package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prowlkit/prowl/internal/database/memory"
	"github.com/prowlkit/prowl/internal/scrape"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%04d", s.n), nil
}

// fakeScraper serves canned pages keyed by URL. Unknown URLs yield an
// empty page with no links.
type fakeScraper struct {
	mu    sync.Mutex
	pages map[string][]string // url -> internal link targets
	fail  map[string]error
	block chan struct{} // when set, Scrape waits here first
	delay time.Duration // per-fetch latency, for concurrency tests
	calls map[string]int
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{
		pages: make(map[string][]string),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeScraper) Scrape(ctx context.Context, req scrape.FetchRequest, _ scrape.Strategy) (scrape.ScrapeResult, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	block := f.block
	delay := f.delay
	failErr := f.fail[req.URL]
	links := f.pages[req.URL]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return scrape.ScrapeResult{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return scrape.ScrapeResult{}, ctx.Err()
		}
	}
	if failErr != nil {
		return scrape.ScrapeResult{}, failErr
	}

	content := scrape.Content{
		URL:       req.URL,
		Title:     "Page",
		WordCount: 500,
	}
	for _, l := range links {
		content.InternalLinks = append(content.InternalLinks, scrape.Link{URL: l})
	}
	content.QualityScore = scrape.ScoreContent(content)
	return scrape.ScrapeResult{
		Content:  content,
		Strategy: scrape.StrategyStatic,
		RawBody:  []byte(strings.Repeat("<p>real content</p>", 20)),
	}, nil
}

func (f *fakeScraper) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type denyAllRobots struct{}

func (denyAllRobots) Check(context.Context, string, string) (scrape.RobotsDecision, error) {
	return scrape.RobotsDecision{Allowed: false}, nil
}

func newManager(t *testing.T, store scrape.Store, scraper Scraper, opts ...func(*Deps)) *Manager {
	t.Helper()
	deps := Deps{
		Store:   store,
		Scraper: scraper,
		Clock:   fakeClock{},
		IDs:     &seqIDs{},
	}
	for _, o := range opts {
		o(&deps)
	}
	return NewManager(Config{
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		WakeInterval:   10 * time.Millisecond,
		MinBodyBytes:   10,
	}, deps)
}

func waitStatus(t *testing.T, m *Manager, id string, want scrape.SessionStatus) scrape.CrawlSession {
	t.Helper()
	var sess scrape.CrawlSession
	require.Eventually(t, func() bool {
		var err error
		sess, err = m.Get(context.Background(), id)
		return err == nil && sess.Status == want
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s (last: %s, err: %s)", want, sess.Status, sess.Error)
	return sess
}

func TestCrawlCompletesAndRecordsPages(t *testing.T) {
	scraper := newFakeScraper()
	scraper.pages["https://example.com/"] = []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://other.org/external",
	}
	store := memory.New(0)
	m := newManager(t, store, scraper)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 2, MaxPages: 50, Concurrent: 2,
	})
	require.NoError(t, err)
	require.Equal(t, scrape.SessionRunning, sess.Status)

	final := waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.Equal(t, 3, final.Stats.ProcessedURLs, "seed plus two same-site links")
	assert.Equal(t, 0, final.Stats.FailedURLs)
	assert.NotNil(t, final.Stats.EndTime)
	assert.Equal(t, 0, scraper.callCount("https://other.org/external"), "cross-site links stay out")

	pages, err := m.Pages(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 3)
}

func TestCrawlHonorsMaxPages(t *testing.T) {
	scraper := newFakeScraper()
	scraper.pages["https://example.com/"] = []string{
		"https://example.com/1", "https://example.com/2",
		"https://example.com/3", "https://example.com/4",
	}
	store := memory.New(0)
	m := newManager(t, store, scraper)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 3, MaxPages: 2, Concurrent: 1,
	})
	require.NoError(t, err)

	final := waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.Equal(t, 2, final.Stats.ProcessedURLs)
}

func TestCrawlMaxPagesExactWithConcurrentWorkers(t *testing.T) {
	scraper := newFakeScraper()
	links := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		links = append(links, fmt.Sprintf("https://example.com/p%02d", i))
	}
	scraper.pages["https://example.com/"] = links
	scraper.delay = 20 * time.Millisecond
	store := memory.New(0)
	m := newManager(t, store, scraper)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 3, MaxPages: 2, Concurrent: 4,
	})
	require.NoError(t, err)

	final := waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.Equal(t, 2, final.Stats.ProcessedURLs, "page budget is a hard bound across workers")

	stats, err := store.Stats(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
	assert.Zero(t, stats.Processing, "interrupted claims go back to pending")
	assert.GreaterOrEqual(t, stats.Pending, 1, "the unvisited remainder stays pending")
}

func TestCrawlDepthLimit(t *testing.T) {
	scraper := newFakeScraper()
	scraper.pages["https://example.com/"] = []string{"https://example.com/deep"}
	scraper.pages["https://example.com/deep"] = []string{"https://example.com/deeper"}
	store := memory.New(0)
	m := newManager(t, store, scraper)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 1, MaxPages: 50, Concurrent: 1,
	})
	require.NoError(t, err)

	waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.Equal(t, 1, scraper.callCount("https://example.com/"))
	assert.Equal(t, 0, scraper.callCount("https://example.com/deep"), "depth-capped item is not fetched")
}

func TestCrawlRobotsDenied(t *testing.T) {
	scraper := newFakeScraper()
	store := memory.New(0)
	m := newManager(t, store, scraper, func(d *Deps) { d.Robots = denyAllRobots{} })

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 2, MaxPages: 10, Concurrent: 1, RespectRobots: true,
	})
	require.NoError(t, err)

	final := waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.Equal(t, 0, final.Stats.ProcessedURLs)
	assert.Equal(t, 1, final.Stats.FailedURLs)
	assert.Equal(t, 0, scraper.callCount("https://example.com/"))
}

func TestCrawlRetriesTransientFailures(t *testing.T) {
	scraper := newFakeScraper()
	var mu sync.Mutex
	attempts := 0
	flaky := &funcScraper{fn: func(ctx context.Context, req scrape.FetchRequest, force scrape.Strategy) (scrape.ScrapeResult, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return scrape.ScrapeResult{}, errors.New("connection reset by peer")
		}
		return scraper.Scrape(ctx, req, force)
	}}
	store := memory.New(0)
	m := newManager(t, store, flaky)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 1, MaxPages: 10, Concurrent: 1,
	})
	require.NoError(t, err)

	final := waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.Equal(t, 1, final.Stats.ProcessedURLs)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestCrawlBlockedErrorIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	blocked := &funcScraper{fn: func(context.Context, scrape.FetchRequest, scrape.Strategy) (scrape.ScrapeResult, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return scrape.ScrapeResult{}, &scrape.BlockedError{
			URL: "https://example.com/", Strategy: scrape.StrategyStatic, StatusCode: 403, Indicator: "denied",
		}
	}}
	store := memory.New(0)
	m := newManager(t, store, blocked)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 1, MaxPages: 10, Concurrent: 1,
	})
	require.NoError(t, err)

	final := waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.Equal(t, 1, final.Stats.FailedURLs)
	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()
}

func TestPauseAndResume(t *testing.T) {
	scraper := newFakeScraper()
	scraper.pages["https://example.com/"] = []string{"https://example.com/a"}
	gate := make(chan struct{})
	scraper.block = gate
	store := memory.New(0)
	m := newManager(t, store, scraper)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 2, MaxPages: 10, Concurrent: 1,
	})
	require.NoError(t, err)

	// Wait until the seed fetch is in flight, then pause mid-fetch.
	require.Eventually(t, func() bool {
		return scraper.callCount("https://example.com/") > 0
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Pause(context.Background(), sess.ID))

	paused := waitStatus(t, m, sess.ID, scrape.SessionPaused)
	assert.Nil(t, paused.Stats.EndTime, "paused sessions carry no end time")

	stats, err := store.Stats(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processing, "in-flight claim released for resume")
	assert.GreaterOrEqual(t, stats.Pending, 1)

	// Unblock fetches and resume.
	scraper.mu.Lock()
	scraper.block = nil
	scraper.mu.Unlock()
	close(gate)
	require.NoError(t, m.Resume(context.Background(), sess.ID))

	final := waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.Equal(t, 2, final.Stats.ProcessedURLs)
}

func TestStopTerminatesEarly(t *testing.T) {
	scraper := newFakeScraper()
	gate := make(chan struct{})
	scraper.block = gate
	store := memory.New(0)
	m := newManager(t, store, scraper)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 2, MaxPages: 10, Concurrent: 1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return scraper.callCount("https://example.com/") > 0
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop(context.Background(), sess.ID))
	close(gate)

	final := waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.NotNil(t, final.Stats.EndTime)
}

func TestStartRejectsInvalidInput(t *testing.T) {
	store := memory.New(0)
	m := newManager(t, store, newFakeScraper())

	_, err := m.Start(context.Background(), "not a url", scrape.CrawlConfig{})
	assert.Error(t, err)

	_, err = m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		ForceStrategy: "teleport",
	})
	assert.Error(t, err)
}

func TestAuthRequiredWithoutCredentialsFails(t *testing.T) {
	store := memory.New(0)
	m := newManager(t, store, newFakeScraper(), func(d *Deps) { d.Auth = failingAuth{} })

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 1, Concurrent: 1,
		Auth: &scrape.AuthConfig{Required: true},
	})
	require.NoError(t, err)

	final := waitStatus(t, m, sess.ID, scrape.SessionFailed)
	assert.Contains(t, final.Error, "authentication")
}

func TestDeleteRefusesActiveSession(t *testing.T) {
	scraper := newFakeScraper()
	gate := make(chan struct{})
	scraper.block = gate
	store := memory.New(0)
	m := newManager(t, store, scraper)

	sess, err := m.Start(context.Background(), "https://example.com/", scrape.CrawlConfig{
		MaxDepth: 1, Concurrent: 1,
	})
	require.NoError(t, err)

	assert.Error(t, m.Delete(context.Background(), sess.ID))

	require.NoError(t, m.Stop(context.Background(), sess.ID))
	close(gate)
	waitStatus(t, m, sess.ID, scrape.SessionCompleted)
	assert.NoError(t, m.Delete(context.Background(), sess.ID))

	_, err = m.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, scrape.ErrSessionNotFound)
}

type funcScraper struct {
	fn func(context.Context, scrape.FetchRequest, scrape.Strategy) (scrape.ScrapeResult, error)
}

func (f *funcScraper) Scrape(ctx context.Context, req scrape.FetchRequest, force scrape.Strategy) (scrape.ScrapeResult, error) {
	return f.fn(ctx, req, force)
}

type failingAuth struct{}

func (failingAuth) Authenticate(context.Context, scrape.AuthConfig, string) (bool, error) {
	return false, errors.New("no credential source configured")
}

func (failingAuth) ApplyStored(string) bool { return false }
