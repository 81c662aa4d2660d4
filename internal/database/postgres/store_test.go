package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/scrape"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, 3, zap.NewNop())
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil, 3, zap.NewNop())
	assert.Error(t, err)
}

func TestAddInsertsNormalizedURL(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	discovered := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO frontier_items").
		WithArgs("item-1", "s1", "https://example.com/a", 1, "https://example.com",
			50, "pending", 0, discovered).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	added, err := store.Add(context.Background(), scrape.FrontierItem{
		ID:           "item-1",
		SessionID:    "s1",
		URL:          "https://example.com/a#fragment",
		Depth:        1,
		ParentURL:    "https://example.com",
		Priority:     50,
		DiscoveredAt: discovered,
	})
	require.NoError(t, err)
	assert.True(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDuplicateIsNoOp(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	discovered := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO frontier_items").
		WithArgs("item-1", "s1", "https://example.com/a", 0, "", 0, "pending", 0, discovered).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	added, err := store.Add(context.Background(), scrape.FrontierItem{
		ID:           "item-1",
		SessionID:    "s1",
		URL:          "https://example.com/a",
		DiscoveredAt: discovered,
	})
	require.NoError(t, err)
	assert.False(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextClaimsBestItem(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	discovered := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "session_id", "url", "depth", "parent_url", "priority",
		"status", "attempts", "last_error", "discovered_at", "processed_at",
	}).AddRow(
		"item-1", "s1", "https://example.com/a", 1, "", 50,
		scrape.ItemProcessing, 1, "", discovered, (*time.Time)(nil),
	)
	mock.ExpectQuery("UPDATE frontier_items SET status = 'processing'").
		WithArgs("s1", 3).
		WillReturnRows(rows)

	item, err := store.Next(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, scrape.ItemProcessing, item.Status)
	assert.Equal(t, 1, item.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextReturnsNilWhenEmpty(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE frontier_items SET status = 'processing'").
		WithArgs("s1", 3).
		WillReturnError(pgx.ErrNoRows)

	item, err := store.Next(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, item)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedUnknownItem(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE frontier_items SET status").
		WithArgs("missing", "failed", "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkFailed(context.Background(), "missing", "boom")
	assert.ErrorIs(t, err, scrape.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregatesByStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 4).
		AddRow("completed", 2).
		AddRow("failed", 1)
	mock.ExpectQuery("SELECT status, count").
		WithArgs("s1").
		WillReturnRows(rows)

	stats, err := store.Stats(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, scrape.FrontierStats{Pending: 4, Completed: 2, Failed: 1}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAndGetSession(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	sess := scrape.CrawlSession{
		ID:       "s1",
		Domain:   "example.com",
		StartURL: "https://example.com",
		Config:   scrape.CrawlConfig{MaxDepth: 3, MaxPages: 100, Concurrent: 4},
		Status:   scrape.SessionPending,
		Created:  now,
		Updated:  now,
	}

	mock.ExpectExec("INSERT INTO crawl_sessions").
		WithArgs("s1", "example.com", "https://example.com", pgxmock.AnyArg(),
			"pending", pgxmock.AnyArg(), "", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateSession(context.Background(), sess))

	configJSON := []byte(`{"max_depth":3,"max_pages":100,"concurrent":4,"delay":0,"respect_robots":false,"extract_structured":false}`)
	statsJSON := []byte(`{"total_urls":0,"processed_urls":0,"failed_urls":0,"extracted_items":0,"start_time":"0001-01-01T00:00:00Z"}`)
	rows := pgxmock.NewRows([]string{
		"id", "domain", "start_url", "config", "status", "stats", "error", "created_at", "updated_at",
	}).AddRow("s1", "example.com", "https://example.com", configJSON, scrape.SessionPending, statsJSON, "", now, now)
	mock.ExpectQuery("SELECT id, domain, start_url").
		WithArgs("s1").
		WillReturnRows(rows)

	got, err := store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, 3, got.Config.MaxDepth)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, domain, start_url").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, scrape.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_sessions").
		WithArgs("missing", pgxmock.AnyArg(), "running", pgxmock.AnyArg(), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateSession(context.Background(), scrape.CrawlSession{ID: "missing", Status: scrape.SessionRunning})
	assert.ErrorIs(t, err, scrape.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSessionClearsPartition(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM crawl_sessions").
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM frontier_items").
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec("DELETE FROM page_records").
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, store.DeleteSession(context.Background(), "s1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPageInsertsRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	fetched := time.Unix(1700000000, 0).UTC()
	page := scrape.PageRecord{
		ID:           "p1",
		SessionID:    "s1",
		URL:          "https://example.com/a",
		Title:        "A",
		Strategy:     scrape.StrategyStatic,
		QualityScore: 80,
		WordCount:    500,
		ContentHash:  "abc123",
		BlobURI:      "gs://bucket/a.html",
		FetchedAt:    fetched,
		DurationMs:   120,
	}

	mock.ExpectExec("INSERT INTO page_records").
		WithArgs("p1", "s1", "https://example.com/a", "A", "static", 80, 500,
			"abc123", "gs://bucket/a.html", fetched, int64(120)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordPage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}
