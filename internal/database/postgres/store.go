// Package postgres provides a Postgres-backed scrape.Store for deployments
// where several engine instances share one durable frontier. Claims rely on
// FOR UPDATE SKIP LOCKED so concurrent workers never receive the same item.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/scrape"
)

// DefaultMaxAttempts bounds how often a frontier item may be claimed.
const DefaultMaxAttempts = 3

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// MaxAttempts bounds frontier claims per item. Zero means the default.
	MaxAttempts int
}

// pgxPool is the subset of pgxpool.Pool the store uses, satisfied by
// pgxmock in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists sessions, pages, and the frontier in Postgres.
type Store struct {
	pool        pgxPool
	logger      *zap.Logger
	maxAttempts int
}

// New connects to Postgres, ensures the schema, and returns a Store.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &Store{pool: pool, logger: logger, maxAttempts: maxAttemptsOrDefault(cfg.MaxAttempts)}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres store connected")
	return s, nil
}

// NewWithPool constructs a Store from an existing pool, primarily for tests.
// It does not ensure the schema.
func NewWithPool(pool pgxPool, maxAttempts int, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, logger: logger, maxAttempts: maxAttemptsOrDefault(maxAttempts)}, nil
}

func maxAttemptsOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxAttempts
	}
	return n
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS crawl_sessions (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		start_url TEXT NOT NULL,
		config JSONB NOT NULL,
		status TEXT NOT NULL,
		stats JSONB NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS frontier_items (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		url TEXT NOT NULL,
		depth INT NOT NULL,
		parent_url TEXT NOT NULL DEFAULT '',
		priority INT NOT NULL,
		status TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		discovered_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		UNIQUE (session_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS frontier_items_claim_idx
		ON frontier_items (session_id, status, priority DESC, depth ASC, discovered_at ASC)`,
	`CREATE TABLE IF NOT EXISTS page_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL,
		quality_score INT NOT NULL,
		word_count INT NOT NULL,
		content_hash TEXT NOT NULL,
		blob_uri TEXT NOT NULL DEFAULT '',
		fetched_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS page_records_session_idx ON page_records (session_id, fetched_at)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Frontier ---

const insertItemSQL = `
INSERT INTO frontier_items (
	id, session_id, url, depth, parent_url, priority, status, attempts, discovered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (session_id, url) DO NOTHING`

// Add enqueues item unless its (session, url) pair is already known.
func (s *Store) Add(ctx context.Context, item scrape.FrontierItem) (bool, error) {
	key, err := scrape.NormalizeURL(item.URL)
	if err != nil {
		return false, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, insertItemSQL,
		item.ID, item.SessionID, key, item.Depth, item.ParentURL,
		item.Priority, string(scrape.ItemPending), item.Attempts, item.DiscoveredAt)
	if err != nil {
		return false, fmt.Errorf("insert frontier item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddBatch applies Add per item and returns how many were new.
func (s *Store) AddBatch(ctx context.Context, items []scrape.FrontierItem) (int, error) {
	added := 0
	for _, item := range items {
		ok, err := s.Add(ctx, item)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

const claimSQL = `
UPDATE frontier_items SET status = 'processing', attempts = attempts + 1
WHERE id = (
	SELECT id FROM frontier_items
	WHERE session_id = $1 AND status = 'pending' AND attempts < $2
	ORDER BY priority DESC, depth ASC, discovered_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, session_id, url, depth, parent_url, priority, status, attempts, last_error, discovered_at, processed_at`

// Next atomically claims the best pending item or returns nil when none
// remain. SKIP LOCKED keeps concurrent claimers from blocking each other.
func (s *Store) Next(ctx context.Context, sessionID string) (*scrape.FrontierItem, error) {
	var item scrape.FrontierItem
	err := s.pool.QueryRow(ctx, claimSQL, sessionID, s.maxAttempts).Scan(
		&item.ID, &item.SessionID, &item.URL, &item.Depth, &item.ParentURL,
		&item.Priority, &item.Status, &item.Attempts, &item.LastError,
		&item.DiscoveredAt, &item.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim frontier item: %w", err)
	}
	return &item, nil
}

const finishItemSQL = `
UPDATE frontier_items SET status = $2, last_error = $3, processed_at = $4 WHERE id = $1`

// MarkCompleted finishes an item successfully.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.finish(ctx, id, scrape.ItemCompleted, "")
}

// MarkFailed finishes an item with an error.
func (s *Store) MarkFailed(ctx context.Context, id string, errText string) error {
	return s.finish(ctx, id, scrape.ItemFailed, errText)
}

func (s *Store) finish(ctx context.Context, id string, status scrape.ItemStatus, errText string) error {
	tag, err := s.pool.Exec(ctx, finishItemSQL, id, string(status), errText, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish frontier item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrSessionNotFound
	}
	return nil
}

const releaseSQL = `
UPDATE frontier_items SET status = 'pending' WHERE session_id = $1 AND status = 'processing'`

// ReleaseProcessing returns claimed-but-unfinished items to pending so a
// paused or restarted session can resume.
func (s *Store) ReleaseProcessing(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, releaseSQL, sessionID); err != nil {
		return fmt.Errorf("release processing items: %w", err)
	}
	return nil
}

const pendingCountSQL = `
SELECT count(*) FROM frontier_items WHERE session_id = $1 AND status = 'pending' AND attempts < $2`

// PendingCount reports claimable items for the session.
func (s *Store) PendingCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, pendingCountSQL, sessionID, s.maxAttempts).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return n, nil
}

const statsSQL = `
SELECT status, count(*) FROM frontier_items WHERE session_id = $1 GROUP BY status`

// Stats counts the session's items per status.
func (s *Store) Stats(ctx context.Context, sessionID string) (scrape.FrontierStats, error) {
	rows, err := s.pool.Query(ctx, statsSQL, sessionID)
	if err != nil {
		return scrape.FrontierStats{}, fmt.Errorf("query frontier stats: %w", err)
	}
	defer rows.Close()

	var stats scrape.FrontierStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return scrape.FrontierStats{}, fmt.Errorf("scan frontier stats: %w", err)
		}
		switch scrape.ItemStatus(status) {
		case scrape.ItemPending:
			stats.Pending = count
		case scrape.ItemProcessing:
			stats.Processing = count
		case scrape.ItemCompleted:
			stats.Completed = count
		case scrape.ItemFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return scrape.FrontierStats{}, fmt.Errorf("iterate frontier stats: %w", err)
	}
	return stats, nil
}

// --- Sessions ---

const insertSessionSQL = `
INSERT INTO crawl_sessions (id, domain, start_url, config, status, stats, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

// CreateSession stores a new crawl session record.
func (s *Store) CreateSession(ctx context.Context, sess scrape.CrawlSession) error {
	configJSON, statsJSON, err := marshalSession(sess)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, insertSessionSQL,
		sess.ID, sess.Domain, sess.StartURL, configJSON, string(sess.Status),
		statsJSON, sess.Error, sess.Created, sess.Updated)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const updateSessionSQL = `
UPDATE crawl_sessions SET config = $2, status = $3, stats = $4, error = $5, updated_at = $6 WHERE id = $1`

// UpdateSession overwrites the stored record.
func (s *Store) UpdateSession(ctx context.Context, sess scrape.CrawlSession) error {
	configJSON, statsJSON, err := marshalSession(sess)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, updateSessionSQL,
		sess.ID, configJSON, string(sess.Status), statsJSON, sess.Error, sess.Updated)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrSessionNotFound
	}
	return nil
}

func marshalSession(sess scrape.CrawlSession) (configJSON, statsJSON []byte, err error) {
	configJSON, err = json.Marshal(sess.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal session config: %w", err)
	}
	statsJSON, err = json.Marshal(sess.Stats)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal session stats: %w", err)
	}
	return configJSON, statsJSON, nil
}

const selectSessionSQL = `
SELECT id, domain, start_url, config, status, stats, error, created_at, updated_at
FROM crawl_sessions WHERE id = $1`

// GetSession fetches one session.
func (s *Store) GetSession(ctx context.Context, id string) (scrape.CrawlSession, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, selectSessionSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.CrawlSession{}, scrape.ErrSessionNotFound
	}
	if err != nil {
		return scrape.CrawlSession{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

const listSessionsSQL = `
SELECT id, domain, start_url, config, status, stats, error, created_at, updated_at
FROM crawl_sessions ORDER BY created_at DESC`

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]scrape.CrawlSession, error) {
	rows, err := s.pool.Query(ctx, listSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []scrape.CrawlSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (scrape.CrawlSession, error) {
	var sess scrape.CrawlSession
	var configJSON, statsJSON []byte
	err := row.Scan(&sess.ID, &sess.Domain, &sess.StartURL, &configJSON,
		&sess.Status, &statsJSON, &sess.Error, &sess.Created, &sess.Updated)
	if err != nil {
		return scrape.CrawlSession{}, err
	}
	if err := json.Unmarshal(configJSON, &sess.Config); err != nil {
		return scrape.CrawlSession{}, fmt.Errorf("unmarshal session config: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &sess.Stats); err != nil {
		return scrape.CrawlSession{}, fmt.Errorf("unmarshal session stats: %w", err)
	}
	return sess, nil
}

// DeleteSession removes the session, its frontier partition, and its pages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawl_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrSessionNotFound
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM frontier_items WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete frontier partition: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM page_records WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete page records: %w", err)
	}
	return nil
}

const insertPageSQL = `
INSERT INTO page_records (
	id, session_id, url, title, strategy, quality_score, word_count, content_hash, blob_uri, fetched_at, duration_ms
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

// RecordPage appends an extracted page record.
func (s *Store) RecordPage(ctx context.Context, p scrape.PageRecord) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, insertPageSQL,
		p.ID, p.SessionID, p.URL, p.Title, string(p.Strategy), p.QualityScore,
		p.WordCount, p.ContentHash, p.BlobURI, p.FetchedAt, p.DurationMs)
	if err != nil {
		return fmt.Errorf("insert page record: %w", err)
	}
	return nil
}

const listPagesSQL = `
SELECT id, session_id, url, title, strategy, quality_score, word_count, content_hash, blob_uri, fetched_at, duration_ms
FROM page_records WHERE session_id = $1 ORDER BY fetched_at ASC`

// ListPages returns the session's page records ordered by fetch time.
func (s *Store) ListPages(ctx context.Context, sessionID string) ([]scrape.PageRecord, error) {
	rows, err := s.pool.Query(ctx, listPagesSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []scrape.PageRecord
	for rows.Next() {
		var p scrape.PageRecord
		err := rows.Scan(&p.ID, &p.SessionID, &p.URL, &p.Title, &p.Strategy,
			&p.QualityScore, &p.WordCount, &p.ContentHash, &p.BlobURI,
			&p.FetchedAt, &p.DurationMs)
		if err != nil {
			return nil, fmt.Errorf("scan page record: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

var _ scrape.Store = (*Store)(nil)
