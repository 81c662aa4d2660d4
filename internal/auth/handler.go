// Package auth applies configured credentials to crawl requests: cookies
// are seeded into the per-domain browser session, headers are replayed on
// every request for the domain.
package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/fetch/stealth"
	"github.com/prowlkit/prowl/internal/scrape"
)

// Handler implements scrape.AuthHandler over config-provided credentials.
type Handler struct {
	sessions *stealth.SessionManager
	logger   *zap.Logger

	mu      sync.RWMutex
	headers map[string]http.Header
}

// New builds a Handler that seeds cookies through the stealth session
// manager. A nil manager still supports header-based auth.
func New(sessions *stealth.SessionManager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		logger:   logger,
		headers:  make(map[string]http.Header),
	}
}

// Authenticate stores the configured cookies and headers for domain. It
// returns true when any credential was applied.
func (h *Handler) Authenticate(ctx context.Context, cfg scrape.AuthConfig, domain string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	applied := false

	if len(cfg.Cookies) > 0 && h.sessions != nil {
		params := make([]*network.CookieParam, 0, len(cfg.Cookies))
		for name, value := range cfg.Cookies {
			params = append(params, &network.CookieParam{
				Name:   name,
				Value:  value,
				Domain: domain,
				Path:   "/",
			})
		}
		h.sessions.AddCookies(domain, params)
		applied = true
	}

	if len(cfg.Headers) > 0 {
		hdr := http.Header{}
		for name, value := range cfg.Headers {
			hdr.Set(name, value)
		}
		h.mu.Lock()
		h.headers[domain] = hdr
		h.mu.Unlock()
		applied = true
	}

	if applied {
		h.logger.Debug("credentials stored",
			zap.String("domain", domain),
			zap.Int("cookies", len(cfg.Cookies)),
			zap.Int("headers", len(cfg.Headers)),
		)
	}
	return applied, nil
}

// ApplyStored reports whether credentials exist for domain.
func (h *Handler) ApplyStored(domain string) bool {
	h.mu.RLock()
	_, hasHeaders := h.headers[domain]
	h.mu.RUnlock()
	if hasHeaders {
		return true
	}
	return h.sessions != nil && h.sessions.HasSession(domain)
}

// Headers returns a copy of the stored request headers for domain.
func (h *Handler) Headers(domain string) http.Header {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stored, ok := h.headers[domain]
	if !ok {
		return nil
	}
	return stored.Clone()
}

// Noop satisfies scrape.AuthHandler for crawls without authentication.
type Noop struct{}

// Authenticate does nothing.
func (Noop) Authenticate(context.Context, scrape.AuthConfig, string) (bool, error) {
	return false, nil
}

// ApplyStored reports no stored credentials.
func (Noop) ApplyStored(string) bool { return false }

var (
	_ scrape.AuthHandler = (*Handler)(nil)
	_ scrape.AuthHandler = Noop{}
)
