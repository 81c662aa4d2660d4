// Package scrape defines the core types and interfaces shared by the
// adaptive scraping engine: fetch strategies, frontier items, crawl
// sessions, and the contracts between the orchestrator and its
// collaborators.
package scrape

import (
	"net/http"
	"time"
)

// Strategy identifies one of the fetch executors.
type Strategy string

// Fetch strategies, ordered by cost.
const (
	StrategyStatic  Strategy = "static"
	StrategyDynamic Strategy = "dynamic"
	StrategyStealth Strategy = "stealth"
)

// Strategies lists every known strategy in ascending cost order.
func Strategies() []Strategy {
	return []Strategy{StrategyStatic, StrategyDynamic, StrategyStealth}
}

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyStatic, StrategyDynamic, StrategyStealth:
		return true
	}
	return false
}

// Decision is the transient output of strategy selection. It is recomputed
// per attempt from the current domain profile and never persisted.
type Decision struct {
	Method        Strategy      `json:"method"`
	Confidence    float64       `json:"confidence"` // 0-100
	Reasons       []string      `json:"reasons"`
	EstimatedTime time.Duration `json:"estimated_time"`
}

// FetchRequest captures everything an executor needs to fetch a URL.
type FetchRequest struct {
	URL       string
	SessionID string
	Depth     int
	Headers   http.Header
	Timeout   time.Duration
}

// Link is a hyperlink discovered in fetched content.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// FetchResult is the raw outcome of a single executor run.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Strategy   Strategy
	Duration   time.Duration
	// Diagnostics collected by the stealth executor.
	AntiBotConfidence float64
	CaptchaDetected   bool
}

// Content is the parsed, quality-scored page representation produced by the
// cascade after extraction and (possibly) merging of multiple fetches.
type Content struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	TextContent     string   `json:"text_content"`
	MarkdownContent string   `json:"markdown_content"`
	InternalLinks   []Link   `json:"internal_links"`
	ExternalLinks   []Link   `json:"external_links"`
	Images          []string `json:"images"`
	Headings        []string `json:"headings"`
	WordCount       int      `json:"word_count"`
	QualityScore    int      `json:"quality_score"` // 0-100
	ContentChunks   []string `json:"content_chunks,omitempty"`
}

// ScrapeResult is what the cascade hands back to callers: the content plus
// which strategy produced it and how the attempt chain went.
type ScrapeResult struct {
	Content    Content       `json:"content"`
	Strategy   Strategy      `json:"strategy"`
	Confidence float64       `json:"confidence"`
	Fallbacks  []Strategy    `json:"fallbacks,omitempty"`
	Duration   time.Duration `json:"duration"`
	RawBody    []byte        `json:"-"`
}

// ItemStatus is the lifecycle state of a frontier item.
type ItemStatus string

// Frontier item states.
const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// FrontierItem is one unit of crawl work. (SessionID, URL) is unique: a
// rediscovered URL is a no-op, and the first discovery's depth and priority
// are never overwritten.
type FrontierItem struct {
	ID           string     `json:"id" badgerhold:"key"`
	SessionID    string     `json:"session_id" badgerholdIndex:"SessionID"`
	URL          string     `json:"url"`
	Depth        int        `json:"depth"`
	ParentURL    string     `json:"parent_url,omitempty"`
	Priority     int        `json:"priority"`
	Status       ItemStatus `json:"status"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// FrontierStats counts items per status for one session.
type FrontierStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the number of items across all states.
func (s FrontierStats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// SessionStatus is the authoritative crawl state machine value.
type SessionStatus string

// Crawl session states.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// CrawlConfig holds the per-session crawl knobs requested by the caller.
type CrawlConfig struct {
	MaxDepth          int           `json:"max_depth"`
	MaxPages          int           `json:"max_pages"`
	Concurrent        int           `json:"concurrent"`
	Delay             time.Duration `json:"delay"`
	RespectRobots     bool          `json:"respect_robots"`
	IncludePatterns   []string      `json:"include_patterns,omitempty"`
	ExcludePatterns   []string      `json:"exclude_patterns,omitempty"`
	ForceStrategy     Strategy      `json:"force_strategy,omitempty"`
	ExtractStructured bool          `json:"extract_structured"`
	Auth              *AuthConfig   `json:"auth,omitempty"`
	UserAgent         string        `json:"user_agent,omitempty"`
}

// AuthConfig describes how workers authenticate against the crawl domain.
type AuthConfig struct {
	Required bool              `json:"required"`
	LoginURL string            `json:"login_url,omitempty"`
	Cookies  map[string]string `json:"cookies,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// SessionStats tracks crawl progress. The durable store is the single
// source of truth; in-memory copies are write-through only.
type SessionStats struct {
	TotalURLs      int        `json:"total_urls"`
	ProcessedURLs  int        `json:"processed_urls"`
	FailedURLs     int        `json:"failed_urls"`
	ExtractedItems int        `json:"extracted_items"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
}

// CrawlSession is the persisted record for one bounded crawl of a domain.
type CrawlSession struct {
	ID       string        `json:"id" badgerhold:"key"`
	Domain   string        `json:"domain"`
	StartURL string        `json:"start_url"`
	Config   CrawlConfig   `json:"config"`
	Status   SessionStatus `json:"status"`
	Stats    SessionStats  `json:"stats"`
	Error    string        `json:"error,omitempty"`
	Created  time.Time     `json:"created_at"`
	Updated  time.Time     `json:"updated_at"`
}

// PageRecord is persisted for every successfully extracted page.
type PageRecord struct {
	ID           string    `json:"id" badgerhold:"key"`
	SessionID    string    `json:"session_id" badgerholdIndex:"SessionID"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Strategy     Strategy  `json:"strategy"`
	QualityScore int       `json:"quality_score"`
	WordCount    int       `json:"word_count"`
	ContentHash  string    `json:"content_hash"`
	BlobURI      string    `json:"blob_uri,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// RobotsDecision is the verdict the robots checker yields for a URL.
type RobotsDecision struct {
	Allowed    bool
	CrawlDelay time.Duration
	Sitemaps   []string
}

// StructuredData is the structured-extraction collaborator's output.
type StructuredData struct {
	Schema       string         `json:"schema"`
	Fields       map[string]any `json:"fields"`
	QualityScore int            `json:"quality_score"`
	Nested       []any          `json:"nested_structures,omitempty"`
}
