// Package badger provides the default durable scrape.Store, backed by an
// embedded Badger database through badgerhold. It is the zero-dependency
// deployment option: sessions, pages, and the frontier survive restarts
// without an external database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/scrape"
)

// DefaultMaxAttempts bounds how often a frontier item may be claimed.
const DefaultMaxAttempts = 3

// Config captures the parameters for the embedded store.
type Config struct {
	// Path is the directory holding the Badger value log and LSM tree.
	Path string `mapstructure:"path"`
	// MaxAttempts bounds frontier claims per item. Zero means the default.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Store persists sessions, pages, and the frontier in an embedded Badger
// database.
type Store struct {
	db          *badgerhold.Store
	logger      *zap.Logger
	maxAttempts int

	// claimMu serializes Next so the find-then-update claim cannot hand the
	// same item to two workers. Badger transactions alone would surface
	// conflicts instead of queueing, so a process-local lock is simpler.
	claimMu sync.Mutex
}

// New opens (or creates) the Badger database at cfg.Path.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("badger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = cfg.Path
	options.ValueDir = cfg.Path
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	logger.Info("badger store opened", zap.String("path", cfg.Path))
	return &Store{db: db, logger: logger, maxAttempts: maxAttempts}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Frontier ---

// seenKey makes the (session, normalized URL) pair a primary key so dedup
// is a plain existence check instead of a scan.
func seenKey(sessionID, normalizedURL string) string {
	return sessionID + "|" + normalizedURL
}

// seenURL marks a (session, url) pair as discovered.
type seenURL struct {
	Key       string `badgerhold:"key"`
	SessionID string `badgerholdIndex:"SessionID"`
	ItemID    string
}

// Add enqueues item unless its (session, url) pair is already known.
func (s *Store) Add(ctx context.Context, item scrape.FrontierItem) (bool, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	return s.addLocked(ctx, item)
}

// AddBatch applies Add per item and returns how many were new.
func (s *Store) AddBatch(ctx context.Context, items []scrape.FrontierItem) (int, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	added := 0
	for _, item := range items {
		ok, err := s.addLocked(ctx, item)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func (s *Store) addLocked(_ context.Context, item scrape.FrontierItem) (bool, error) {
	key, err := scrape.NormalizeURL(item.URL)
	if err != nil {
		return false, err
	}

	var existing seenURL
	switch err := s.db.Get(seenKey(item.SessionID, key), &existing); {
	case err == nil:
		// First discovery wins: depth and priority are never rewritten.
		return false, nil
	case !errors.Is(err, badgerhold.ErrNotFound):
		return false, fmt.Errorf("check frontier dedup: %w", err)
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.URL = key
	item.Status = scrape.ItemPending
	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now().UTC()
	}

	if err := s.db.Insert(item.ID, item); err != nil {
		return false, fmt.Errorf("insert frontier item: %w", err)
	}
	seen := seenURL{Key: seenKey(item.SessionID, key), SessionID: item.SessionID, ItemID: item.ID}
	if err := s.db.Insert(seen.Key, seen); err != nil {
		return false, fmt.Errorf("insert frontier dedup marker: %w", err)
	}
	return true, nil
}

// Next claims the best pending item for the session: priority desc, depth
// asc, discovery time asc, attempts below the bound.
func (s *Store) Next(_ context.Context, sessionID string) (*scrape.FrontierItem, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var candidates []scrape.FrontierItem
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").
		And("Status").Eq(scrape.ItemPending).
		And("Attempts").Lt(s.maxAttempts)
	if err := s.db.Find(&candidates, query); err != nil {
		return nil, fmt.Errorf("find pending frontier items: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if claimLess(c, best) {
			best = c
		}
	}

	best.Status = scrape.ItemProcessing
	best.Attempts++
	if err := s.db.Update(best.ID, best); err != nil {
		return nil, fmt.Errorf("claim frontier item: %w", err)
	}
	return &best, nil
}

// claimLess orders a before b in claim order.
func claimLess(a, b scrape.FrontierItem) bool {
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
	var item scrape.FrontierItem
	if err := s.db.Get(id, &item); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return scrape.ErrSessionNotFound
		}
		return fmt.Errorf("get frontier item: %w", err)
	}
	now := time.Now().UTC()
	item.Status = status
	item.LastError = errText
	item.ProcessedAt = &now
	if err := s.db.Update(id, item); err != nil {
		return fmt.Errorf("finish frontier item: %w", err)
	}
	return nil
}

// ReleaseProcessing returns claimed-but-unfinished items to pending so a
// paused or restarted session can resume.
func (s *Store) ReleaseProcessing(_ context.Context, sessionID string) error {
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").
		And("Status").Eq(scrape.ItemProcessing)
	err := s.db.UpdateMatching(&scrape.FrontierItem{}, query, func(record interface{}) error {
		item, ok := record.(*scrape.FrontierItem)
		if !ok {
			return fmt.Errorf("unexpected record type %T", record)
		}
		item.Status = scrape.ItemPending
		return nil
	})
	if err != nil {
		return fmt.Errorf("release processing items: %w", err)
	}
	return nil
}

// PendingCount reports claimable items for the session.
func (s *Store) PendingCount(_ context.Context, sessionID string) (int, error) {
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").
		And("Status").Eq(scrape.ItemPending).
		And("Attempts").Lt(s.maxAttempts)
	n, err := s.db.Count(&scrape.FrontierItem{}, query)
	if err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return int(n), nil
}

// Stats counts the session's items per status.
func (s *Store) Stats(_ context.Context, sessionID string) (scrape.FrontierStats, error) {
	var items []scrape.FrontierItem
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID")
	if err := s.db.Find(&items, query); err != nil {
		return scrape.FrontierStats{}, fmt.Errorf("find session items: %w", err)
	}
	var stats scrape.FrontierStats
	for _, item := range items {
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
	if err := s.db.Insert(sess.ID, sess); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession overwrites the stored record.
func (s *Store) UpdateSession(_ context.Context, sess scrape.CrawlSession) error {
	if err := s.db.Update(sess.ID, sess); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return scrape.ErrSessionNotFound
		}
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// GetSession fetches one session.
func (s *Store) GetSession(_ context.Context, id string) (scrape.CrawlSession, error) {
	var sess scrape.CrawlSession
	if err := s.db.Get(id, &sess); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return scrape.CrawlSession{}, scrape.ErrSessionNotFound
		}
		return scrape.CrawlSession{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(_ context.Context) ([]scrape.CrawlSession, error) {
	var sessions []scrape.CrawlSession
	query := (&badgerhold.Query{}).SortBy("Created").Reverse()
	if err := s.db.Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes the session, its frontier partition, and its pages.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	if err := s.db.Delete(id, &scrape.CrawlSession{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return scrape.ErrSessionNotFound
		}
		return fmt.Errorf("delete session: %w", err)
	}

	partition := badgerhold.Where("SessionID").Eq(id).Index("SessionID")
	if err := s.db.DeleteMatching(&scrape.FrontierItem{}, partition); err != nil {
		return fmt.Errorf("delete frontier partition: %w", err)
	}
	if err := s.db.DeleteMatching(&seenURL{}, partition); err != nil {
		return fmt.Errorf("delete dedup markers: %w", err)
	}
	if err := s.db.DeleteMatching(&scrape.PageRecord{}, partition); err != nil {
		return fmt.Errorf("delete page records: %w", err)
	}
	return nil
}

// RecordPage appends an extracted page record.
func (s *Store) RecordPage(_ context.Context, p scrape.PageRecord) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.db.Insert(p.ID, p); err != nil {
		return fmt.Errorf("insert page record: %w", err)
	}
	return nil
}

// ListPages returns the session's page records ordered by fetch time.
func (s *Store) ListPages(_ context.Context, sessionID string) ([]scrape.PageRecord, error) {
	var pages []scrape.PageRecord
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").SortBy("FetchedAt")
	if err := s.db.Find(&pages, query); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

var _ scrape.Store = (*Store)(nil)
