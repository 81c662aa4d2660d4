package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Heuristic base scores per strategy, adjusted by observed characteristics.
const (
	baseScoreStatic  = 70
	baseScoreDynamic = 50
	baseScoreStealth = 30

	// promoteAfterAttempts is how much history a domain needs before the
	// learned success rates override the heuristics.
	promoteAfterAttempts = 5
	// promoteMinRate is the success rate a strategy must hold to be
	// selected directly from history.
	promoteMinRate = 0.7

	maxHeuristicConfidence = 95
)

// Estimated wall-clock cost per strategy, reported in decisions.
var estimatedTimes = map[scrape.Strategy]time.Duration{
	scrape.StrategyStatic:  2 * time.Second,
	scrape.StrategyDynamic: 10 * time.Second,
	scrape.StrategyStealth: 25 * time.Second,
}

// Select picks the fetch strategy for a domain. A non-empty override is
// honored unconditionally with full confidence. Otherwise the learned
// success rates decide once enough attempts exist; until then a heuristic
// scorer over the observed characteristics picks the strategy.
func (s *Store) Select(domain string, override scrape.Strategy) scrape.Decision {
	if override != "" {
		return scrape.Decision{
			Method:        override,
			Confidence:    100,
			Reasons:       []string{"explicitly requested method"},
			EstimatedTime: estimatedTimes[override],
		}
	}

	p, ok := s.Get(domain)
	if ok && p.TotalAttempts > promoteAfterAttempts {
		if best, rate := bestRate(p); rate > promoteMinRate {
			return scrape.Decision{
				Method:     best,
				Confidence: rate * 100,
				Reasons: []string{
					fmt.Sprintf("%.0f%% success rate over %d attempts", rate*100, p.TotalAttempts),
				},
				EstimatedTime: estimatedTimes[best],
			}
		}
	}

	return heuristicDecision(domain, p.Characteristics)
}

func bestRate(p Profile) (scrape.Strategy, float64) {
	best := scrape.StrategyStatic
	rate := -1.0
	for _, strat := range scrape.Strategies() {
		if r := p.SuccessRates[strat]; r > rate {
			best, rate = strat, r
		}
	}
	return best, rate
}

// heuristicDecision scores each strategy from the domain's characteristics
// and textual hints in the domain name.
func heuristicDecision(domain string, ch Characteristics) scrape.Decision {
	scores := map[scrape.Strategy]int{
		scrape.StrategyStatic:  baseScoreStatic,
		scrape.StrategyDynamic: baseScoreDynamic,
		scrape.StrategyStealth: baseScoreStealth,
	}
	reasons := []string{}

	if ch.HasAntiBot {
		scores[scrape.StrategyStatic] -= 40
		scores[scrape.StrategyStealth] += 30
		reasons = append(reasons, "anti-bot defenses observed")
	}
	if ch.RequiresJS {
		scores[scrape.StrategyStatic] -= 30
		scores[scrape.StrategyDynamic] += 20
		reasons = append(reasons, "site requires JavaScript rendering")
	}
	if ch.HasCaptcha {
		scores[scrape.StrategyStatic] -= 50
		scores[scrape.StrategyDynamic] -= 30
		scores[scrape.StrategyStealth] += 40
		reasons = append(reasons, "captcha encountered previously")
	}
	if ch.HasRateLimit {
		scores[scrape.StrategyStatic] -= 10
		scores[scrape.StrategyDynamic] -= 10
		scores[scrape.StrategyStealth] += 20
		reasons = append(reasons, "rate limiting observed")
	}

	if hintReason := applyDomainHints(domain, scores); hintReason != "" {
		reasons = append(reasons, hintReason)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no history; defaulting to cheapest capable strategy")
	}

	best := scrape.StrategyStatic
	bestScore := scores[best]
	for _, strat := range scrape.Strategies() {
		if scores[strat] > bestScore {
			best, bestScore = strat, scores[strat]
		}
	}

	confidence := float64(bestScore)
	if confidence > maxHeuristicConfidence {
		confidence = maxHeuristicConfidence
	}
	if confidence < 0 {
		confidence = 0
	}

	return scrape.Decision{
		Method:        best,
		Confidence:    confidence,
		Reasons:       reasons,
		EstimatedTime: estimatedTimes[best],
	}
}

// Domains known to gate content behind heavy client-side apps or aggressive
// bot defenses, and ones that are almost always plain documents.
var (
	stealthHintDomains = []string{"linkedin", "facebook", "instagram", "twitter", "x.com", "tiktok", "ticketmaster"}
	dynamicHintDomains = []string{"app.", "portal.", "dashboard.", "shop."}
	staticHintDomains  = []string{"blog", "docs", "wiki", "news", "gov"}
)

func applyDomainHints(domain string, scores map[scrape.Strategy]int) string {
	d := strings.ToLower(domain)
	for _, hint := range stealthHintDomains {
		if strings.Contains(d, hint) {
			scores[scrape.StrategyStealth] += 25
			scores[scrape.StrategyStatic] -= 20
			return "domain known for aggressive bot defenses"
		}
	}
	for _, hint := range dynamicHintDomains {
		if strings.Contains(d, hint) {
			scores[scrape.StrategyDynamic] += 15
			return "domain suggests a client-side application"
		}
	}
	for _, hint := range staticHintDomains {
		if strings.Contains(d, hint) {
			scores[scrape.StrategyStatic] += 10
			return "domain suggests static content"
		}
	}
	return ""
}
