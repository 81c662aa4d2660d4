package stealth

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"golang.org/x/time/rate"
)

// sessionTTL is how long an idle browser identity survives before a fresh
// fingerprint is drawn for the domain.
const sessionTTL = time.Hour

// Session is the per-domain browser identity: a stable fingerprint, the
// cookie jar accumulated across fetches, and the request counters feeding
// the per-domain rate limiter. It is independent of crawl sessions.
type Session struct {
	Domain       string
	Fingerprint  Fingerprint
	Cookies      []*network.CookieParam
	RequestCount int
	LastUsed     time.Time

	limiter *rate.Limiter
}

// SessionManager hands out and expires per-domain sessions.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	perMin   int
	now      func() time.Time
}

// NewSessionManager builds a manager allowing perMinute requests per domain
// (rolling, enforced by a token bucket that refills one token per interval).
func NewSessionManager(perMinute int) *SessionManager {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		perMin:   perMinute,
		now:      time.Now,
	}
}

// Get returns the live session for domain, creating or rotating one if the
// previous identity expired.
func (m *SessionManager) Get(domain string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s, ok := m.sessions[domain]
	if ok && now.Sub(s.LastUsed) < sessionTTL {
		s.LastUsed = now
		return s
	}

	s = &Session{
		Domain:      domain,
		Fingerprint: RandomFingerprint(),
		LastUsed:    now,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.perMin)), m.perMin),
	}
	m.sessions[domain] = s
	return s
}

// Limiter exposes the per-domain request limiter.
func (s *Session) Limiter() *rate.Limiter { return s.limiter }

// StoreCookies replaces the session's cookie jar with the browser's current
// cookies so the next fetch reuses them.
func (m *SessionManager) StoreCookies(domain string, cookies []*network.Cookie) {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[domain]; ok {
		s.Cookies = params
		s.RequestCount++
		s.LastUsed = m.now()
	}
}

// AddCookies merges externally obtained cookies (e.g. from an auth flow)
// into the domain's jar.
func (m *SessionManager) AddCookies(domain string, cookies []*network.CookieParam) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[domain]
	if !ok {
		s = &Session{
			Domain:      domain,
			Fingerprint: RandomFingerprint(),
			LastUsed:    m.now(),
			limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.perMin)), m.perMin),
		}
		m.sessions[domain] = s
	}
	s.Cookies = append(s.Cookies, cookies...)
}

// HasSession reports whether a live identity exists for the domain.
func (m *SessionManager) HasSession(domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[domain]
	return ok && m.now().Sub(s.LastUsed) < sessionTTL
}
