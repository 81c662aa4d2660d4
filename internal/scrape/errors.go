package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors shared across the engine.
var (
	// ErrServerBusy is returned when the admission gate cannot grant a
	// heavy-fetch slot before its wait timeout. Callers may retry later.
	ErrServerBusy = errors.New("server busy: heavy fetch capacity exhausted")

	// ErrSessionNotFound is returned by stores and the orchestrator for
	// unknown session IDs.
	ErrSessionNotFound = errors.New("crawl session not found")
)

// BlockedError marks an anti-bot or captcha rejection. The same strategy is
// not retried; the cascade moves on and the domain profile flags are updated.
type BlockedError struct {
	URL        string
	Strategy   Strategy
	StatusCode int
	Indicator  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s fetch of %s blocked (status %d): %s",
		e.Strategy, e.URL, e.StatusCode, e.Indicator)
}

// AttemptError records one failed executor run inside a cascade.
type AttemptError struct {
	Strategy Strategy
	Err      error
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

// Unwrap exposes the underlying executor error.
func (e AttemptError) Unwrap() error { return e.Err }

// CascadeError aggregates the errors of every strategy the cascade tried.
type CascadeError struct {
	URL      string
	Attempts []AttemptError
}

func (e *CascadeError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("all strategies failed for %s: [%s]", e.URL, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is/As see through to the individual attempts.
func (e *CascadeError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}

// IsBlocked reports whether err (or anything it wraps) is a BlockedError.
func IsBlocked(err error) bool {
	var b *BlockedError
	return errors.As(err, &b)
}

// IsTransient reports whether a fetch failure is worth retrying with the
// same strategy: timeouts, connection resets, and 5xx responses qualify;
// cancellation, blocking, and busy rejections do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrServerBusy) || IsBlocked(err) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"timeout", "timed out", "connection reset", "connection refused", "eof"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// HTTPStatusError is returned by executors for non-2xx responses.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}
