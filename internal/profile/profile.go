// Package profile implements the per-domain adaptive store: observed site
// characteristics, per-strategy success rates, and the strategy selector
// that turns them into a fetch decision.
package profile

import (
	"time"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Difficulty buckets a domain by how hostile it has proven to be.
type Difficulty string

// Difficulty levels, derived from observed characteristic flags.
const (
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyHard    Difficulty = "hard"
	DifficultyExtreme Difficulty = "extreme"
)

// Characteristics are the learned traits of a site.
type Characteristics struct {
	HasAntiBot   bool       `json:"has_anti_bot"`
	RequiresJS   bool       `json:"requires_js"`
	HasRateLimit bool       `json:"has_rate_limit"`
	HasCaptcha   bool       `json:"has_captcha"`
	Difficulty   Difficulty `json:"difficulty"`
}

// Profile is the adaptive record for one domain. It is owned exclusively by
// the Store; callers only ever see copies.
type Profile struct {
	Domain            string                      `json:"domain"`
	Characteristics   Characteristics             `json:"characteristics"`
	SuccessRates      map[scrape.Strategy]float64 `json:"success_rates"`
	OptimalStrategy   scrape.Strategy             `json:"optimal_strategy,omitempty"`
	OptimalConfidence float64                     `json:"optimal_confidence,omitempty"`
	TotalAttempts     int                         `json:"total_attempts"`
	RecentFailures    []string                    `json:"recent_failures,omitempty"`
	LastUpdated       time.Time                   `json:"last_updated"`
}

const recentFailureCap = 10

func newProfile(domain string) *Profile {
	return &Profile{
		Domain: domain,
		Characteristics: Characteristics{
			Difficulty: DifficultyEasy,
		},
		SuccessRates: map[scrape.Strategy]float64{
			scrape.StrategyStatic:  0,
			scrape.StrategyDynamic: 0,
			scrape.StrategyStealth: 0,
		},
	}
}

// clone returns a deep copy safe to hand outside the store's lock.
func (p *Profile) clone() Profile {
	cp := *p
	cp.SuccessRates = make(map[scrape.Strategy]float64, len(p.SuccessRates))
	for k, v := range p.SuccessRates {
		cp.SuccessRates[k] = v
	}
	cp.RecentFailures = append([]string(nil), p.RecentFailures...)
	return cp
}

// bestStrategy returns the strategy with the highest success rate. Cheaper
// strategies win ties.
func (p *Profile) bestStrategy() (scrape.Strategy, float64) {
	best := scrape.StrategyStatic
	bestRate := -1.0
	for _, s := range scrape.Strategies() {
		if rate := p.SuccessRates[s]; rate > bestRate {
			best, bestRate = s, rate
		}
	}
	return best, bestRate
}

// refreshDifficulty re-derives the difficulty bucket from the flag count.
func (p *Profile) refreshDifficulty() {
	flags := 0
	for _, f := range []bool{
		p.Characteristics.HasAntiBot,
		p.Characteristics.RequiresJS,
		p.Characteristics.HasRateLimit,
		p.Characteristics.HasCaptcha,
	} {
		if f {
			flags++
		}
	}
	switch {
	case flags >= 3:
		p.Characteristics.Difficulty = DifficultyExtreme
	case flags == 2:
		p.Characteristics.Difficulty = DifficultyHard
	case flags == 1:
		p.Characteristics.Difficulty = DifficultyMedium
	default:
		p.Characteristics.Difficulty = DifficultyEasy
	}
}
