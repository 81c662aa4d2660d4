package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prowlkit/prowl/internal/fetch/stealth"
	"github.com/prowlkit/prowl/internal/metrics"
	"github.com/prowlkit/prowl/internal/scrape"
)

// maxRobotsDelay caps how long a crawl-delay directive can stall a worker.
const maxRobotsDelay = 10 * time.Second

// headerProvider is implemented by auth handlers that replay stored request
// headers for a domain.
type headerProvider interface {
	Headers(domain string) http.Header
}

// runCrawl authenticates if required, runs the worker pool until the
// frontier drains or the run is finished externally, then writes the
// terminal state.
func (m *Manager) runCrawl(ctx context.Context, r *run, sess scrape.CrawlSession) {
	defer m.finalize(r)

	if sess.Config.Auth != nil && m.deps.Auth != nil {
		applied, err := m.deps.Auth.Authenticate(ctx, *sess.Config.Auth, sess.Domain)
		if sess.Config.Auth.Required && (err != nil || !applied) {
			reason := "authentication required but no credentials applied"
			if err != nil {
				reason = fmt.Sprintf("authentication failed: %v", err)
			}
			r.finish(scrape.SessionFailed, reason)
			return
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < sess.Config.Concurrent; i++ {
		g.Go(func() error {
			return m.worker(gctx, r, sess)
		})
	}
	if err := g.Wait(); err != nil {
		r.finish(scrape.SessionFailed, err.Error())
	}
}

// worker claims and processes frontier items until the run ends. Idle
// workers block on the notify channel with a ticker fallback so a drained
// or starved frontier never spins.
func (m *Manager) worker(ctx context.Context, r *run, sess scrape.CrawlSession) error {
	ticker := time.NewTicker(m.cfg.WakeInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		// The budget unit is reserved before the claim so concurrent workers
		// cannot race past maxPages between check and claim.
		ok, done := r.beginItem(sess.Config.MaxPages)
		if !ok {
			if done {
				r.finish(scrape.SessionCompleted, "")
				return nil
			}
			// An in-flight item may still fail and return its unit.
			if !waitWake(ctx, r, ticker) {
				return nil
			}
			continue
		}

		item, err := m.deps.Store.Next(ctx, sess.ID)
		if err != nil {
			r.endItem(false)
			if ctx.Err() != nil {
				return nil
			}
			m.log.Warn("frontier claim failed",
				zap.String("session_id", sess.ID), zap.Error(err))
			if !waitWake(ctx, r, ticker) {
				return nil
			}
			continue
		}
		if item == nil {
			r.endItem(false)
			if r.inFlightCount() == 0 {
				pending, perr := m.deps.Store.PendingCount(ctx, sess.ID)
				if perr == nil && pending == 0 {
					r.finish(scrape.SessionCompleted, "")
					return nil
				}
			}
			if !waitWake(ctx, r, ticker) {
				return nil
			}
			continue
		}

		counted := m.processItem(ctx, r, &sess, item)
		r.endItem(counted)
		r.wake()

		if sess.Config.Delay > 0 {
			if err := sleepCtx(ctx, sess.Config.Delay); err != nil {
				return nil
			}
		}
	}
}

// processItem runs the policy gates and the fetch cascade for one claimed
// item, persists the outcome, and enqueues newly discovered links. It
// reports whether the item became a processed page and so keeps its page
// budget unit.
func (m *Manager) processItem(ctx context.Context, r *run, sess *scrape.CrawlSession, item *scrape.FrontierItem) bool {
	log := m.log.With(
		zap.String("session_id", sess.ID),
		zap.String("url", item.URL),
		zap.Int("depth", item.Depth),
	)

	// Items at the depth limit are recorded as discovered but never fetched.
	if item.Depth >= sess.Config.MaxDepth {
		if err := m.deps.Store.MarkCompleted(ctx, item.ID); err != nil {
			log.Warn("mark depth-capped item", zap.Error(err))
		}
		metrics.ObservePage("depth_capped")
		m.flushStats(ctx, r)
		return false
	}

	if sess.Config.RespectRobots && m.deps.Robots != nil {
		decision, err := m.deps.Robots.Check(ctx, item.URL, sess.Config.UserAgent)
		if err == nil && !decision.Allowed {
			m.failItem(ctx, r, item, "robots.txt disallows this path")
			metrics.ObservePage("robots_denied")
			m.flushStats(ctx, r)
			return false
		}
		if delay := decision.CrawlDelay; delay > 0 {
			if delay > maxRobotsDelay {
				delay = maxRobotsDelay
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return false
			}
		}
	}

	req := scrape.FetchRequest{
		URL:       item.URL,
		SessionID: sess.ID,
		Depth:     item.Depth,
	}
	if hp, ok := m.deps.Auth.(headerProvider); ok {
		req.Headers = hp.Headers(sess.Domain)
	}

	result, err := m.fetchWithRetry(ctx, req, sess.Config.ForceStrategy)
	if err != nil {
		// A canceled fetch leaves the item processing; finalize releases it
		// back to pending instead of burning an attempt.
		if ctx.Err() != nil {
			return false
		}
		m.failItem(ctx, r, item, err.Error())
		metrics.ObservePage("failed")
		m.flushStats(ctx, r)
		log.Debug("item failed", zap.Error(err))
		return false
	}

	if reason := validateBody(result.RawBody, m.cfg.MinBodyBytes); reason != "" {
		m.failItem(ctx, r, item, reason)
		metrics.ObservePage("rejected")
		m.flushStats(ctx, r)
		return false
	}

	record := scrape.PageRecord{
		SessionID:    sess.ID,
		URL:          item.URL,
		Title:        result.Content.Title,
		Strategy:     result.Strategy,
		QualityScore: result.Content.QualityScore,
		WordCount:    result.Content.WordCount,
		FetchedAt:    m.deps.Clock.Now(),
		DurationMs:   result.Duration.Milliseconds(),
	}
	if id, err := m.deps.IDs.NewID(); err == nil {
		record.ID = id
	}
	if m.deps.Hasher != nil {
		if hash, err := m.deps.Hasher.Hash(result.RawBody); err == nil {
			record.ContentHash = hash
			if m.deps.Blobs != nil {
				path := fmt.Sprintf("sessions/%s/%s.html", sess.ID, hash)
				uri, err := m.deps.Blobs.PutObject(ctx, path, "text/html; charset=utf-8", result.RawBody)
				if err != nil {
					log.Warn("snapshot upload failed", zap.Error(err))
				} else {
					record.BlobURI = uri
				}
			}
		}
	}
	if err := m.deps.Store.RecordPage(ctx, record); err != nil {
		log.Warn("record page", zap.Error(err))
	}

	if sess.Config.ExtractStructured && m.deps.Structured != nil {
		if _, err := m.deps.Structured.Extract(result.RawBody, ""); err == nil {
			r.addExtracted(1)
		}
	}

	if err := m.deps.Store.MarkCompleted(ctx, item.ID); err != nil {
		log.Warn("mark item completed", zap.Error(err))
	}
	r.addProcessed(1)
	metrics.ObservePage("completed")

	enqueued := m.enqueueLinks(ctx, sess, item, result.Content.InternalLinks)
	if m.deps.Events != nil {
		_, err := m.deps.Events.Publish(ctx, TopicPageScraped, map[string]any{
			"session_id":    sess.ID,
			"url":           item.URL,
			"strategy":      string(result.Strategy),
			"quality_score": result.Content.QualityScore,
			"word_count":    result.Content.WordCount,
			"links_found":   enqueued,
		})
		if err != nil {
			log.Debug("publish page event", zap.Error(err))
		}
	}

	m.flushStats(ctx, r)
	log.Debug("page scraped",
		zap.String("strategy", string(result.Strategy)),
		zap.Int("quality", result.Content.QualityScore),
		zap.Int("links_enqueued", enqueued),
	)
	return true
}

// enqueueLinks filters the page's same-site links through the session's
// patterns and adds them one level deeper. First discovery wins in the
// frontier, so rediscoveries are cheap no-ops.
func (m *Manager) enqueueLinks(ctx context.Context, sess *scrape.CrawlSession, parent *scrape.FrontierItem, links []scrape.Link) int {
	depth := parent.Depth + 1
	if depth > sess.Config.MaxDepth {
		return 0
	}

	now := m.deps.Clock.Now()
	items := make([]scrape.FrontierItem, 0, len(links))
	for _, l := range links {
		if !scrape.Crawlable(l.URL) {
			continue
		}
		if !scrape.SameSite(sess.Domain, l.URL) {
			continue
		}
		if !scrape.MatchesPatterns(l.URL, sess.Config.IncludePatterns, sess.Config.ExcludePatterns) {
			continue
		}
		id, err := m.deps.IDs.NewID()
		if err != nil {
			continue
		}
		items = append(items, scrape.FrontierItem{
			ID:           id,
			SessionID:    sess.ID,
			URL:          l.URL,
			Depth:        depth,
			ParentURL:    parent.URL,
			Priority:     scrape.LinkPriority(l.URL),
			Status:       scrape.ItemPending,
			DiscoveredAt: now,
		})
	}
	if len(items) == 0 {
		return 0
	}

	added, err := m.deps.Store.AddBatch(ctx, items)
	if err != nil {
		m.log.Warn("enqueue links failed",
			zap.String("session_id", sess.ID), zap.Error(err))
		return 0
	}
	return added
}

// fetchWithRetry retries transient cascade failures with exponential
// backoff. Blocking and busy errors surface immediately.
func (m *Manager) fetchWithRetry(ctx context.Context, req scrape.FetchRequest, force scrape.Strategy) (scrape.ScrapeResult, error) {
	var lastErr error
	delay := m.cfg.RetryBaseDelay

	for attempt := 1; attempt <= m.cfg.MaxFetchAttempts; attempt++ {
		result, err := m.deps.Scraper.Scrape(ctx, req, force)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !scrape.IsTransient(err) || attempt == m.cfg.MaxFetchAttempts {
			break
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return scrape.ScrapeResult{}, err
		}
		delay *= 2
		if delay > m.cfg.RetryMaxDelay {
			delay = m.cfg.RetryMaxDelay
		}
	}
	return scrape.ScrapeResult{}, lastErr
}

// validateBody rejects fetches that returned a stub or a blocking page that
// slipped past the executors.
func validateBody(body []byte, minBytes int) string {
	if len(body) < minBytes {
		return fmt.Sprintf("body %d bytes below minimum %d", len(body), minBytes)
	}
	if scan := stealth.ScanForBotWall(body); scan.Detected() {
		return "blocking content: " + scan.IndicatorSummary()
	}
	return ""
}

// failItem marks the item failed and bumps the run's failure counter.
func (m *Manager) failItem(ctx context.Context, r *run, item *scrape.FrontierItem, reason string) {
	if err := m.deps.Store.MarkFailed(ctx, item.ID, reason); err != nil {
		m.log.Warn("mark item failed",
			zap.String("item_id", item.ID), zap.Error(err))
	}
	r.addFailed(1)
}

// finalize releases still-open claims, writes the run's terminal state to
// the durable store, and emits the lifecycle event. Paused runs carry no
// end time.
func (m *Manager) finalize(r *run) {
	defer close(r.done)
	m.removeRun(r.id)
	metrics.DecActiveSessions()

	status, errText := r.outcome()
	if status == "" {
		status = scrape.SessionCompleted
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Claims still open when the run ends, whether paused mid-fetch or
	// canceled by the page budget, go back to pending so the remainder of
	// the frontier stays resumable.
	if err := m.deps.Store.ReleaseProcessing(ctx, r.id); err != nil {
		m.log.Warn("release processing claims",
			zap.String("session_id", r.id), zap.Error(err))
	}

	stored, err := m.deps.Store.GetSession(ctx, r.id)
	if err != nil {
		m.log.Error("load session for finalize",
			zap.String("session_id", r.id), zap.Error(err))
		return
	}

	now := m.deps.Clock.Now()
	stored.Status = status
	stored.Error = errText
	stored.Updated = now
	m.applyCounters(ctx, &stored, r)
	if status != scrape.SessionPaused {
		stored.Stats.EndTime = &now
	}
	if err := m.deps.Store.UpdateSession(ctx, stored); err != nil {
		m.log.Error("persist terminal session state",
			zap.String("session_id", r.id), zap.Error(err))
		return
	}

	if status != scrape.SessionPaused && m.deps.Events != nil {
		_, err := m.deps.Events.Publish(ctx, TopicSessionFinished, map[string]any{
			"session_id": stored.ID,
			"domain":     stored.Domain,
			"status":     string(status),
			"processed":  stored.Stats.ProcessedURLs,
			"failed":     stored.Stats.FailedURLs,
		})
		if err != nil {
			m.log.Debug("publish session event", zap.Error(err))
		}
	}

	m.log.Info("crawl session finished",
		zap.String("session_id", r.id),
		zap.String("status", string(status)),
		zap.Int("processed", stored.Stats.ProcessedURLs),
		zap.Int("failed", stored.Stats.FailedURLs),
	)
}

// flushStats writes the run counters and frontier totals through to the
// stored session.
func (m *Manager) flushStats(ctx context.Context, r *run) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	stored, err := m.deps.Store.GetSession(ctx, r.id)
	if err != nil {
		return
	}
	m.applyCounters(ctx, &stored, r)
	stored.Updated = m.deps.Clock.Now()
	if err := m.deps.Store.UpdateSession(ctx, stored); err != nil {
		m.log.Warn("flush session stats",
			zap.String("session_id", r.id), zap.Error(err))
	}
}

func (m *Manager) applyCounters(ctx context.Context, sess *scrape.CrawlSession, r *run) {
	processed, failed, extracted := r.counts()
	sess.Stats.ProcessedURLs = int(processed)
	sess.Stats.FailedURLs = int(failed)
	sess.Stats.ExtractedItems = int(extracted)

	if fstats, err := m.deps.Store.Stats(ctx, sess.ID); err == nil {
		sess.Stats.TotalURLs = fstats.Total()
		metrics.SetFrontierStatus(string(scrape.ItemPending), fstats.Pending)
		metrics.SetFrontierStatus(string(scrape.ItemProcessing), fstats.Processing)
		metrics.SetFrontierStatus(string(scrape.ItemCompleted), fstats.Completed)
		metrics.SetFrontierStatus(string(scrape.ItemFailed), fstats.Failed)
	}
}

// beginItem reserves one unit of the session page budget and registers the
// claim attempt as in flight. ok is false once the budget is spent; done
// additionally reports that no reservations remain outstanding, so the run
// can complete. max <= 0 means the budget is unbounded.
func (r *run) beginItem(max int) (ok, done bool) {
	r.counterMu.Lock()
	defer r.counterMu.Unlock()
	if max > 0 && r.scheduled >= int64(max) {
		return false, r.inFlight == 0
	}
	r.scheduled++
	r.inFlight++
	return true, false
}

// endItem resolves a reservation. Only a successfully processed page keeps
// its budget unit; every other outcome returns it.
func (r *run) endItem(counted bool) {
	r.counterMu.Lock()
	r.inFlight--
	if !counted {
		r.scheduled--
	}
	r.counterMu.Unlock()
}

func (r *run) inFlightCount() int64 {
	r.counterMu.Lock()
	defer r.counterMu.Unlock()
	return r.inFlight
}

func (r *run) addProcessed(n int64) {
	r.counterMu.Lock()
	r.processed += n
	r.counterMu.Unlock()
}

func (r *run) addFailed(n int64) {
	r.counterMu.Lock()
	r.failed += n
	r.counterMu.Unlock()
}

func (r *run) addExtracted(n int64) {
	r.counterMu.Lock()
	r.extracted += n
	r.counterMu.Unlock()
}

func (r *run) counts() (processed, failed, extracted int64) {
	r.counterMu.Lock()
	defer r.counterMu.Unlock()
	return r.processed, r.failed, r.extracted
}

// waitWake blocks until new work may exist. It returns false when the run
// context ends.
func waitWake(ctx context.Context, r *run, ticker *time.Ticker) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.notify:
		return true
	case <-ticker.C:
		return true
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
