// Package gate bounds concurrent heavy (browser-backed) fetches with a
// process-wide counting semaphore and a FIFO wait queue.
package gate

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Defaults sized for browser instances: each slot is a Chrome target, so the
// ceiling stays in the small single digits.
const (
	DefaultMaxConcurrent = 3
	DefaultWaitTimeout   = 2 * time.Minute
)

// Gate implements scrape.AdmissionGate. Waiters are granted strictly in
// arrival order; a waiter that times out or is canceled is removed from the
// queue without consuming a slot.
type Gate struct {
	mu      sync.Mutex
	inUse   int
	max     int
	waiters *list.List // of *waiter
	timeout time.Duration
	logger  *zap.Logger
}

type waiter struct {
	granted chan struct{}
	// served guards the grant/timeout race: set under the gate mutex when a
	// release hands this waiter the slot.
	served bool
}

// Config controls gate capacity and waiter patience.
type Config struct {
	MaxConcurrent int
	WaitTimeout   time.Duration
}

// New builds a Gate.
func New(cfg Config, logger *zap.Logger) *Gate {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		max:     cfg.MaxConcurrent,
		waiters: list.New(),
		timeout: cfg.WaitTimeout,
		logger:  logger,
	}
}

// Acquire grants a slot immediately when capacity allows, otherwise queues
// the caller. It returns an idempotent release closure that must be run on
// every exit path; deferring it right after a successful Acquire guarantees
// the slot is returned even on panics.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	g.mu.Lock()
	if g.inUse < g.max {
		g.inUse++
		g.mu.Unlock()
		return g.releaseOnce(), nil
	}

	w := &waiter{granted: make(chan struct{})}
	elem := g.waiters.PushBack(w)
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case <-w.granted:
		return g.releaseOnce(), nil
	case <-timer.C:
		if g.abandonWaiter(elem, w) {
			g.logger.Warn("admission wait timed out", zap.Duration("timeout", g.timeout))
			return nil, scrape.ErrServerBusy
		}
		// Granted between timer fire and queue removal; keep the slot.
		return g.releaseOnce(), nil
	case <-ctx.Done():
		if g.abandonWaiter(elem, w) {
			return nil, ctx.Err()
		}
		// Slot already handed over; return it instead of leaking it.
		g.release()
		return nil, ctx.Err()
	}
}

// abandonWaiter removes a queued waiter. It returns false when the waiter
// was already served, in which case the caller owns a slot.
func (g *Gate) abandonWaiter(elem *list.Element, w *waiter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.served {
		return false
	}
	g.waiters.Remove(elem)
	return true
}

// releaseOnce wraps release so double-invocation cannot corrupt the count.
func (g *Gate) releaseOnce() func() {
	var once sync.Once
	return func() {
		once.Do(g.release)
	}
}

// release hands the slot to the oldest waiter, or frees it.
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if front := g.waiters.Front(); front != nil {
		w := front.Value.(*waiter)
		g.waiters.Remove(front)
		w.served = true
		close(w.granted)
		// inUse is unchanged: the slot moved from releaser to waiter.
		return
	}
	if g.inUse > 0 {
		g.inUse--
	}
}

// InUse reports the number of currently held slots.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Waiting reports the queue length, for metrics and tests.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}
