// Package cascade runs the adaptive fetch pipeline: pick a strategy from
// the domain profile, execute it, record the outcome, and escalate (or
// de-escalate) through the remaining strategies until the page yields
// acceptable content or every strategy has failed.
package cascade

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/profile"
	"github.com/prowlkit/prowl/internal/scrape"
)

// minAcceptableQuality is the extraction score below which a successful
// fetch is still treated as incomplete and the next strategy is tried, with
// the two extractions merged.
const minAcceptableQuality = 30

// Fallback chains per primary strategy. A blocked static fetch escalates to
// rendering and then stealth; an expensive primary de-escalates to the
// cheaper methods it skipped.
var fallbackOrder = map[scrape.Strategy][]scrape.Strategy{
	scrape.StrategyStatic:  {scrape.StrategyDynamic, scrape.StrategyStealth},
	scrape.StrategyDynamic: {scrape.StrategyStealth, scrape.StrategyStatic},
	scrape.StrategyStealth: {scrape.StrategyDynamic, scrape.StrategyStatic},
}

// Engine drives strategy selection and fallback for single-page scrapes.
type Engine struct {
	profiles  *profile.Store
	executors map[scrape.Strategy]scrape.Executor
	extractor scrape.ContentExtractor
	logger    *zap.Logger
}

// New builds a cascade engine over the given executors.
func New(profiles *profile.Store, executors []scrape.Executor, extractor scrape.ContentExtractor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	byMethod := make(map[scrape.Strategy]scrape.Executor, len(executors))
	for _, e := range executors {
		byMethod[e.Method()] = e
	}
	return &Engine{
		profiles:  profiles,
		executors: byMethod,
		extractor: extractor,
		logger:    logger,
	}
}

// Decide exposes the strategy decision without fetching, for the analyze
// endpoint and for logging.
func (e *Engine) Decide(domain string, force scrape.Strategy) scrape.Decision {
	return e.profiles.Select(domain, force)
}

// Scrape fetches one URL through the cascade. A non-empty force pins the
// strategy and disables fallback. Every executor attempt is folded into the
// domain profile, success or not.
func (e *Engine) Scrape(ctx context.Context, req scrape.FetchRequest, force scrape.Strategy) (scrape.ScrapeResult, error) {
	domain := scrape.Domain(req.URL)
	if domain == "" {
		return scrape.ScrapeResult{}, fmt.Errorf("cannot derive domain from %q", req.URL)
	}

	decision := e.profiles.Select(domain, force)
	order := []scrape.Strategy{decision.Method}
	if force == "" {
		order = append(order, fallbackOrder[decision.Method]...)
	}

	start := time.Now()
	var (
		attempts []scrape.AttemptError
		best     *scrape.ScrapeResult
	)

	for i, strat := range order {
		if err := ctx.Err(); err != nil {
			return scrape.ScrapeResult{}, err
		}
		exec, ok := e.executors[strat]
		if !ok {
			attempts = append(attempts, scrape.AttemptError{
				Strategy: strat,
				Err:      fmt.Errorf("no executor registered"),
			})
			continue
		}

		e.logger.Debug("cascade attempt",
			zap.String("url", req.URL),
			zap.String("strategy", string(strat)),
			zap.Float64("confidence", decision.Confidence),
			zap.Int("attempt", i+1),
		)

		res, err := exec.Fetch(ctx, req)
		e.profiles.RecordOutcome(domain, strat, err == nil, errText(err))
		if err != nil {
			attempts = append(attempts, scrape.AttemptError{Strategy: strat, Err: err})
			e.logger.Debug("cascade attempt failed",
				zap.String("url", req.URL),
				zap.String("strategy", string(strat)),
				zap.Error(err),
			)
			continue
		}

		content, err := e.extractor.Extract(res.Body, res.URL, domain)
		if err != nil {
			attempts = append(attempts, scrape.AttemptError{
				Strategy: strat,
				Err:      fmt.Errorf("extract content: %w", err),
			})
			continue
		}
		content.QualityScore = scrape.ScoreContent(content)

		result := scrape.ScrapeResult{
			Content:    content,
			Strategy:   strat,
			Confidence: decision.Confidence,
			Fallbacks:  order[1 : i+1],
			RawBody:    res.Body,
		}

		if content.QualityScore >= minAcceptableQuality {
			if best != nil {
				result.Content = scrape.MergeContent(best.Content, content)
			}
			result.Duration = time.Since(start)
			return result, nil
		}

		// Thin extraction: keep the best attempt, escalate, merge later.
		attempts = append(attempts, scrape.AttemptError{
			Strategy: strat,
			Err:      fmt.Errorf("content quality %d below threshold %d", content.QualityScore, minAcceptableQuality),
		})
		if best == nil || content.QualityScore > best.Content.QualityScore {
			best = &result
		}
	}

	if best != nil {
		best.Duration = time.Since(start)
		e.logger.Debug("cascade settled for thin content",
			zap.String("url", req.URL),
			zap.String("strategy", string(best.Strategy)),
			zap.Int("quality", best.Content.QualityScore),
		)
		return *best, nil
	}

	return scrape.ScrapeResult{}, &scrape.CascadeError{URL: req.URL, Attempts: attempts}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
