// Package session orchestrates bounded crawls: it owns the session state
// machine (pending -> running -> paused/completed/failed), the worker pool
// draining the frontier, and the write-through of progress stats to the
// durable store.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/metrics"
	"github.com/prowlkit/prowl/internal/scrape"
)

// Event topics published on session lifecycle transitions.
const (
	TopicPageScraped     = "pages.scraped"
	TopicSessionFinished = "sessions.finished"
)

// Scraper is the slice of the fetch cascade the orchestrator depends on.
type Scraper interface {
	Scrape(ctx context.Context, req scrape.FetchRequest, force scrape.Strategy) (scrape.ScrapeResult, error)
}

// Config holds the orchestrator defaults applied when a crawl request
// leaves a knob unset.
type Config struct {
	DefaultConcurrent int
	DefaultMaxDepth   int
	DefaultMaxPages   int
	UserAgent         string
	MinBodyBytes      int
	MaxFetchAttempts  int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	WakeInterval      time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultConcurrent <= 0 {
		c.DefaultConcurrent = 4
	}
	if c.DefaultMaxDepth <= 0 {
		c.DefaultMaxDepth = 3
	}
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = 100
	}
	if c.UserAgent == "" {
		c.UserAgent = "prowl/1.0"
	}
	if c.MinBodyBytes <= 0 {
		c.MinBodyBytes = 128
	}
	if c.MaxFetchAttempts <= 0 {
		c.MaxFetchAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.WakeInterval <= 0 {
		c.WakeInterval = 500 * time.Millisecond
	}
}

// Deps are the collaborators a Manager drives. Store, Scraper, Clock, and
// IDs are required; the rest degrade to no-ops when nil.
type Deps struct {
	Store      scrape.Store
	Scraper    Scraper
	Robots     scrape.RobotsChecker
	Structured scrape.StructuredExtractor
	Auth       scrape.AuthHandler
	Blobs      scrape.BlobStore
	Events     scrape.Publisher
	Hasher     scrape.Hasher
	Clock      scrape.Clock
	IDs        scrape.IDGenerator
	Logger     *zap.Logger
}

// Manager owns every active crawl run in the process.
type Manager struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	mu   sync.Mutex
	runs map[string]*run
}

// NewManager wires a Manager.
func NewManager(cfg Config, deps Deps) *Manager {
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
		runs: make(map[string]*run),
	}
}

// run is the in-memory state of one active crawl. Counters are flushed to
// the durable store after every finished item; the store stays the source
// of truth.
type run struct {
	id     string
	cancel context.CancelFunc
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	final   scrape.SessionStatus
	errText string

	// scheduled counts page-budget reservations: claims in flight plus
	// pages already processed. It is what maxPages bounds.
	counterMu sync.Mutex
	scheduled int64
	inFlight  int64
	processed int64
	failed    int64
	extracted int64

	// flushMu serializes the read-modify-write of stored session stats.
	flushMu sync.Mutex
}

// finish records the run's terminal state once and cancels its workers.
func (r *run) finish(status scrape.SessionStatus, errText string) {
	r.mu.Lock()
	if r.final == "" {
		r.final, r.errText = status, errText
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *run) outcome() (scrape.SessionStatus, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final, r.errText
}

// wake nudges idle workers after new frontier items or a finished claim.
func (r *run) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start validates and persists a new crawl session, seeds its frontier, and
// launches the worker pool. The returned session is already running.
func (m *Manager) Start(ctx context.Context, startURL string, cfg scrape.CrawlConfig) (scrape.CrawlSession, error) {
	normalized, err := scrape.NormalizeURL(startURL)
	if err != nil {
		return scrape.CrawlSession{}, fmt.Errorf("invalid start url: %w", err)
	}
	if cfg.ForceStrategy != "" && !cfg.ForceStrategy.Valid() {
		return scrape.CrawlSession{}, fmt.Errorf("unknown strategy %q", cfg.ForceStrategy)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = m.cfg.DefaultMaxDepth
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = m.cfg.DefaultMaxPages
	}
	if cfg.Concurrent <= 0 {
		cfg.Concurrent = m.cfg.DefaultConcurrent
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = m.cfg.UserAgent
	}

	id, err := m.deps.IDs.NewID()
	if err != nil {
		return scrape.CrawlSession{}, fmt.Errorf("mint session id: %w", err)
	}
	now := m.deps.Clock.Now()
	sess := scrape.CrawlSession{
		ID:       id,
		Domain:   scrape.Domain(normalized),
		StartURL: normalized,
		Config:   cfg,
		Status:   scrape.SessionPending,
		Stats:    scrape.SessionStats{StartTime: now},
		Created:  now,
		Updated:  now,
	}
	if err := m.deps.Store.CreateSession(ctx, sess); err != nil {
		return scrape.CrawlSession{}, fmt.Errorf("persist session: %w", err)
	}

	seedID, err := m.deps.IDs.NewID()
	if err != nil {
		return scrape.CrawlSession{}, fmt.Errorf("mint seed id: %w", err)
	}
	seed := scrape.FrontierItem{
		ID:           seedID,
		SessionID:    id,
		URL:          normalized,
		Depth:        0,
		Priority:     100,
		Status:       scrape.ItemPending,
		DiscoveredAt: now,
	}
	if _, err := m.deps.Store.Add(ctx, seed); err != nil {
		return scrape.CrawlSession{}, fmt.Errorf("seed frontier: %w", err)
	}

	if err := m.launch(ctx, &sess); err != nil {
		return scrape.CrawlSession{}, err
	}
	return sess, nil
}

// launch transitions sess to running and spawns its worker pool.
func (m *Manager) launch(ctx context.Context, sess *scrape.CrawlSession) error {
	m.mu.Lock()
	if _, exists := m.runs[sess.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session %s already running", sess.ID)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     sess.ID,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	m.runs[sess.ID] = r
	m.mu.Unlock()

	sess.Status = scrape.SessionRunning
	sess.Updated = m.deps.Clock.Now()
	if err := m.deps.Store.UpdateSession(ctx, *sess); err != nil {
		m.removeRun(sess.ID)
		cancel()
		return fmt.Errorf("mark session running: %w", err)
	}

	metrics.IncActiveSessions()
	m.log.Info("crawl session started",
		zap.String("session_id", sess.ID),
		zap.String("domain", sess.Domain),
		zap.Int("concurrent", sess.Config.Concurrent),
		zap.Int("max_depth", sess.Config.MaxDepth),
		zap.Int("max_pages", sess.Config.MaxPages),
	)
	go m.runCrawl(runCtx, r, *sess)
	return nil
}

// Pause asks a running session to stop claiming work. In-flight fetches are
// canceled and their items released back to pending.
func (m *Manager) Pause(ctx context.Context, id string) error {
	r, ok := m.activeRun(id)
	if !ok {
		return m.stateError(ctx, id, "pause")
	}
	r.finish(scrape.SessionPaused, "")
	<-r.done
	return nil
}

// Resume relaunches a paused session against its surviving frontier.
func (m *Manager) Resume(ctx context.Context, id string) error {
	sess, err := m.deps.Store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != scrape.SessionPaused {
		return fmt.Errorf("session %s is %s, not paused", id, sess.Status)
	}
	// Stale processing claims from a crash are re-opened as well.
	if err := m.deps.Store.ReleaseProcessing(ctx, id); err != nil {
		return fmt.Errorf("release processing items: %w", err)
	}
	return m.launch(ctx, &sess)
}

// Stop terminates a running or paused session. The session completes with
// whatever it has processed so far.
func (m *Manager) Stop(ctx context.Context, id string) error {
	if r, ok := m.activeRun(id); ok {
		r.finish(scrape.SessionCompleted, "")
		<-r.done
		return nil
	}

	sess, err := m.deps.Store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != scrape.SessionPaused {
		return fmt.Errorf("session %s is %s, not running or paused", id, sess.Status)
	}
	now := m.deps.Clock.Now()
	sess.Status = scrape.SessionCompleted
	sess.Stats.EndTime = &now
	sess.Updated = now
	return m.deps.Store.UpdateSession(ctx, sess)
}

// Get returns the persisted session.
func (m *Manager) Get(ctx context.Context, id string) (scrape.CrawlSession, error) {
	return m.deps.Store.GetSession(ctx, id)
}

// List returns all persisted sessions.
func (m *Manager) List(ctx context.Context) ([]scrape.CrawlSession, error) {
	return m.deps.Store.ListSessions(ctx)
}

// Pages returns the extracted page records for a session.
func (m *Manager) Pages(ctx context.Context, id string) ([]scrape.PageRecord, error) {
	return m.deps.Store.ListPages(ctx, id)
}

// Delete removes a finished session and its data. Active sessions must be
// stopped first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, ok := m.activeRun(id); ok {
		return fmt.Errorf("session %s is running; stop it before deleting", id)
	}
	return m.deps.Store.DeleteSession(ctx, id)
}

// Shutdown pauses every active session and waits for their runs to settle,
// so a restart can resume them from the durable frontier.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	active := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		active = append(active, r)
	}
	m.mu.Unlock()

	for _, r := range active {
		r.finish(scrape.SessionPaused, "")
	}
	for _, r := range active {
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) activeRun(id string) (*run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}

func (m *Manager) removeRun(id string) {
	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()
}

// stateError distinguishes "unknown session" from "known but not running".
func (m *Manager) stateError(ctx context.Context, id, verb string) error {
	sess, err := m.deps.Store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("cannot %s session %s in state %s", verb, id, sess.Status)
}
