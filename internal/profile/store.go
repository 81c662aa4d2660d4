package profile

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Store holds domain profiles in memory for the process lifetime. It is
// constructed once at the service root and injected into every consumer.
// Updates for a domain are serialized by a per-entry mutex so concurrent
// sessions reporting outcomes for the same site never lose writes.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	clock   scrape.Clock
	logger  *zap.Logger
}

type entry struct {
	mu      sync.Mutex
	profile *Profile
}

// NewStore builds an empty profile store.
func NewStore(clock scrape.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries: make(map[string]*entry),
		clock:   clock,
		logger:  logger,
	}
}

// entryFor returns the entry for domain, creating it lazily.
func (s *Store) entryFor(domain string) *entry {
	domain = strings.ToLower(domain)
	s.mu.RLock()
	e, ok := s.entries[domain]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[domain]; ok {
		return e
	}
	e = &entry{profile: newProfile(domain)}
	s.entries[domain] = e
	return e
}

// Get returns a copy of the domain's profile and whether it existed.
func (s *Store) Get(domain string) (Profile, bool) {
	s.mu.RLock()
	e, ok := s.entries[strings.ToLower(domain)]
	s.mu.RUnlock()
	if !ok {
		return Profile{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile.clone(), true
}

// RecordOutcome folds one fetch attempt into the domain's profile. It must
// be called exactly once per executor attempt.
//
// The weighted average uses the domain-wide attempt counter, not a
// per-strategy one; mixing strategies within a domain therefore skews the
// rates. This mirrors the established selector behavior that downstream
// thresholds (0.7 promotion) are tuned against, so it is kept as-is.
func (s *Store) RecordOutcome(domain string, strategy scrape.Strategy, success bool, errText string) {
	e := s.entryFor(domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.profile
	p.TotalAttempts++
	n := float64(p.TotalAttempts)
	rate := p.SuccessRates[strategy]

	if success {
		rate = (rate*(n-1) + 1) / n
	} else {
		rate = (rate * (n - 1)) / n
	}
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	p.SuccessRates[strategy] = rate

	if success {
		if best, bestRate := p.bestStrategy(); best == strategy {
			p.OptimalStrategy = strategy
			p.OptimalConfidence = bestRate * 100
		}
	} else if errText != "" {
		p.RecentFailures = append(p.RecentFailures, errText)
		if len(p.RecentFailures) > recentFailureCap {
			p.RecentFailures = p.RecentFailures[len(p.RecentFailures)-recentFailureCap:]
		}
		s.flipCharacteristics(p, errText)
	}

	p.refreshDifficulty()
	p.LastUpdated = s.clock.Now()

	s.logger.Debug("profile outcome recorded",
		zap.String("domain", p.Domain),
		zap.String("strategy", string(strategy)),
		zap.Bool("success", success),
		zap.Float64("rate", rate),
		zap.Int("attempts", p.TotalAttempts),
	)
}

// flipCharacteristics matches failure text against known signatures and
// raises the corresponding trait flags.
func (s *Store) flipCharacteristics(p *Profile, errText string) {
	msg := strings.ToLower(errText)
	switch {
	case containsAny(msg, "captcha", "challenge-form", "recaptcha", "hcaptcha"):
		p.Characteristics.HasCaptcha = true
	case containsAny(msg, "blocked", "forbidden", "access denied", "403"):
		p.Characteristics.HasAntiBot = true
	case containsAny(msg, "rate limit", "too many", "429"):
		p.Characteristics.HasRateLimit = true
	case containsAny(msg, "timeout", "javascript", "empty body"):
		p.Characteristics.RequiresJS = true
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Clear removes one domain's profile. It returns false for unknown domains.
func (s *Store) Clear(domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(domain)
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// List returns copies of every profile.
func (s *Store) List() []Profile {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Profile, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.profile.clone())
		e.mu.Unlock()
	}
	return out
}

// Export serializes all profiles as a JSON array for portability.
func (s *Store) Export() ([]byte, error) {
	data, err := json.MarshalIndent(s.List(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profiles: %w", err)
	}
	return data, nil
}

// Import loads a JSON array of profiles, replacing any existing records for
// the same domains.
func (s *Store) Import(data []byte) (int, error) {
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return 0, fmt.Errorf("unmarshal profiles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range profiles {
		p := profiles[i]
		p.Domain = strings.ToLower(p.Domain)
		if p.Domain == "" {
			return 0, fmt.Errorf("profile %d has no domain", i)
		}
		if p.SuccessRates == nil {
			p.SuccessRates = newProfile(p.Domain).SuccessRates
		}
		s.entries[p.Domain] = &entry{profile: &p}
	}
	return len(profiles), nil
}

// Report summarizes one domain's per-strategy success rates.
func (s *Store) Report(domain string) (map[scrape.Strategy]float64, int, bool) {
	p, ok := s.Get(domain)
	if !ok {
		return nil, 0, false
	}
	return p.SuccessRates, p.TotalAttempts, true
}
