// Package memory provides an in-memory scrape.Store for tests and
// single-shot development runs. It honors the same claim and dedup
// semantics as the durable providers but loses state on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prowlkit/prowl/internal/scrape"
)

// DefaultMaxAttempts bounds how often a frontier item may be claimed.
const DefaultMaxAttempts = 3

// Store keeps sessions, pages, and the frontier in process memory.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]scrape.CrawlSession
	pages       map[string][]scrape.PageRecord
	items       map[string]*scrape.FrontierItem
	seen        map[string]map[string]string // sessionID -> normalized URL -> itemID
	maxAttempts int
}

// New builds an empty store.
func New(maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Store{
		sessions:    make(map[string]scrape.CrawlSession),
		pages:       make(map[string][]scrape.PageRecord),
		items:       make(map[string]*scrape.FrontierItem),
		seen:        make(map[string]map[string]string),
		maxAttempts: maxAttempts,
	}
}

// Close is a no-op for the in-memory provider.
func (s *Store) Close() error { return nil }

// --- Frontier ---

// Add enqueues item unless its (session, url) pair is already known.
func (s *Store) Add(_ context.Context, item scrape.FrontierItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(item)
}

// AddBatch applies Add per item and returns how many were new.
func (s *Store) AddBatch(_ context.Context, items []scrape.FrontierItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, item := range items {
		ok, err := s.addLocked(item)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func (s *Store) addLocked(item scrape.FrontierItem) (bool, error) {
	key, err := scrape.NormalizeURL(item.URL)
	if err != nil {
		return false, err
	}
	byURL, ok := s.seen[item.SessionID]
	if !ok {
		byURL = make(map[string]string)
		s.seen[item.SessionID] = byURL
	}
	if _, dup := byURL[key]; dup {
		// First discovery wins: depth and priority are never rewritten.
		return false, nil
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.URL = key
	item.Status = scrape.ItemPending
	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now().UTC()
	}
	byURL[key] = item.ID
	s.items[item.ID] = &item
	return true, nil
}

// Next claims the best pending item for the session: priority desc, depth
// asc, discovery time asc, attempts below the bound. The claim flips status
// and bumps attempts under the store lock, so two workers can never claim
// the same item.
func (s *Store) Next(_ context.Context, sessionID string) (*scrape.FrontierItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *scrape.FrontierItem
	for _, item := range s.items {
		if item.SessionID != sessionID || item.Status != scrape.ItemPending || item.Attempts >= s.maxAttempts {
			continue
		}
		if best == nil || claimLess(item, best) {
			best = item
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = scrape.ItemProcessing
	best.Attempts++
	claimed := *best
	return &claimed, nil
}

// claimLess orders a before b in claim order.
func claimLess(a, b *scrape.FrontierItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.DiscoveredAt.Before(b.DiscoveredAt)
}

// MarkCompleted finishes an item successfully.
func (s *Store) MarkCompleted(_ context.Context, id string) error {
	return s.finish(id, scrape.ItemCompleted, "")
}

// MarkFailed finishes an item with an error.
func (s *Store) MarkFailed(_ context.Context, id string, errText string) error {
	return s.finish(id, scrape.ItemFailed, errText)
}

func (s *Store) finish(id string, status scrape.ItemStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return scrape.ErrSessionNotFound
	}
	now := time.Now().UTC()
	item.Status = status
	item.LastError = errText
	item.ProcessedAt = &now
	return nil
}

// ReleaseProcessing returns claimed-but-unfinished items to pending so a
// paused or restarted session can resume.
func (s *Store) ReleaseProcessing(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.SessionID == sessionID && item.Status == scrape.ItemProcessing {
			item.Status = scrape.ItemPending
		}
	}
	return nil
}

// PendingCount reports claimable items for the session.
func (s *Store) PendingCount(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.SessionID == sessionID && item.Status == scrape.ItemPending && item.Attempts < s.maxAttempts {
			n++
		}
	}
	return n, nil
}

// Stats counts the session's items per status.
func (s *Store) Stats(_ context.Context, sessionID string) (scrape.FrontierStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats scrape.FrontierStats
	for _, item := range s.items {
		if item.SessionID != sessionID {
			continue
		}
		switch item.Status {
		case scrape.ItemPending:
			stats.Pending++
		case scrape.ItemProcessing:
			stats.Processing++
		case scrape.ItemCompleted:
			stats.Completed++
		case scrape.ItemFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// --- Sessions ---

// CreateSession stores a new crawl session record.
func (s *Store) CreateSession(_ context.Context, sess scrape.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// UpdateSession overwrites the stored record.
func (s *Store) UpdateSession(_ context.Context, sess scrape.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return scrape.ErrSessionNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession fetches one session.
func (s *Store) GetSession(_ context.Context, id string) (scrape.CrawlSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return scrape.CrawlSession{}, scrape.ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(_ context.Context) ([]scrape.CrawlSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scrape.CrawlSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

// DeleteSession removes the session, its frontier partition, and its pages.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return scrape.ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.pages, id)
	delete(s.seen, id)
	for itemID, item := range s.items {
		if item.SessionID == id {
			delete(s.items, itemID)
		}
	}
	return nil
}

// RecordPage appends an extracted page record.
func (s *Store) RecordPage(_ context.Context, p scrape.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.pages[p.SessionID] = append(s.pages[p.SessionID], p)
	return nil
}

// ListPages returns the session's page records in insertion order.
func (s *Store) ListPages(_ context.Context, sessionID string) ([]scrape.PageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scrape.PageRecord(nil), s.pages[sessionID]...), nil
}

var _ scrape.Store = (*Store)(nil)
