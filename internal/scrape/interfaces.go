package scrape

import (
	"context"
	"time"
)

// Executor fetches one URL with a single strategy. All three executors are
// selected through this interface; adding a strategy means adding a variant,
// not new call-site branching.
type Executor interface {
	Method() Strategy
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// AdmissionGate bounds concurrent heavy (browser-backed) operations
// process-wide. Acquire blocks FIFO up to a timeout and returns a release
// closure that must run on every exit path.
type AdmissionGate interface {
	Acquire(ctx context.Context) (release func(), err error)
	InUse() int
}

// Frontier is the durable, prioritized, deduplicated queue of crawl work,
// partitioned by session ID.
type Frontier interface {
	// Add enqueues a discovered URL. Re-adding an existing (session, url)
	// pair is a no-op and returns false.
	Add(ctx context.Context, item FrontierItem) (bool, error)
	AddBatch(ctx context.Context, items []FrontierItem) (int, error)
	// Next atomically claims the best pending item (priority desc, depth
	// asc, discovery asc, attempts < max) or returns nil when none remain.
	Next(ctx context.Context, sessionID string) (*FrontierItem, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errText string) error
	// ReleaseProcessing flips processing items back to pending so a paused
	// or restarted session can be resumed without losing claims.
	ReleaseProcessing(ctx context.Context, sessionID string) error
	PendingCount(ctx context.Context, sessionID string) (int, error)
	Stats(ctx context.Context, sessionID string) (FrontierStats, error)
}

// SessionStore persists crawl sessions and extracted page records.
type SessionStore interface {
	CreateSession(ctx context.Context, s CrawlSession) error
	UpdateSession(ctx context.Context, s CrawlSession) error
	GetSession(ctx context.Context, id string) (CrawlSession, error)
	ListSessions(ctx context.Context) ([]CrawlSession, error)
	DeleteSession(ctx context.Context, id string) error
	RecordPage(ctx context.Context, p PageRecord) error
	ListPages(ctx context.Context, sessionID string) ([]PageRecord, error)
}

// Store combines the durable surfaces one provider backs.
type Store interface {
	Frontier
	SessionStore
	Close() error
}

// RobotsChecker answers whether a URL may be fetched for a user agent.
type RobotsChecker interface {
	Check(ctx context.Context, url, userAgent string) (RobotsDecision, error)
}

// ContentExtractor turns raw HTML into structured page content.
type ContentExtractor interface {
	Extract(html []byte, pageURL, domain string) (Content, error)
}

// StructuredExtractor pulls schema'd records (JSON-LD and friends) out of
// raw page HTML.
type StructuredExtractor interface {
	Extract(html []byte, schema string) (StructuredData, error)
}

// AuthHandler executes an authentication flow for a domain and applies
// stored credentials to later requests on the same worker.
type AuthHandler interface {
	Authenticate(ctx context.Context, cfg AuthConfig, domain string) (bool, error)
	ApplyStored(domain string) bool
}

// CaptchaSolver is the pluggable hook the stealth executor calls when a
// captcha is detected. Implementations may wait for manual solving, call an
// external service, or skip the page.
type CaptchaSolver interface {
	Solve(ctx context.Context, pageURL, captchaType string) error
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Publisher pushes crawl lifecycle events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for dedup and blob naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints session and item IDs.
type IDGenerator interface {
	NewID() (string, error)
}
