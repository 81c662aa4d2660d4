package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prowlkit/prowl/internal/scrape"
)

func TestAcquireWithinCapacity(t *testing.T) {
	g := New(Config{MaxConcurrent: 2, WaitTimeout: time.Second}, nil)

	rel1, err := g.Acquire(context.Background())
	require.NoError(t, err)
	rel2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, g.InUse())

	rel1()
	assert.Equal(t, 1, g.InUse())
	rel2()
	assert.Equal(t, 0, g.InUse())
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, WaitTimeout: time.Second}, nil)
	rel, err := g.Acquire(context.Background())
	require.NoError(t, err)
	rel()
	rel()
	rel()
	assert.Equal(t, 0, g.InUse())
}

func TestNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	g := New(Config{MaxConcurrent: capacity, WaitTimeout: 5 * time.Second}, nil)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := g.Acquire(context.Background())
			if err != nil {
				return
			}
			defer rel()
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(capacity))
	assert.Equal(t, 0, g.InUse())
}

func TestWaiterTimesOutWithBusyError(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, WaitTimeout: 30 * time.Millisecond}, nil)
	rel, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer rel()

	_, err = g.Acquire(context.Background())
	assert.ErrorIs(t, err, scrape.ErrServerBusy)
	assert.Equal(t, 0, g.Waiting(), "timed-out waiter must leave the queue")
}

func TestWaiterGrantedFIFO(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, WaitTimeout: 5 * time.Second}, nil)
	rel, err := g.Acquire(context.Background())
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r, err := g.Acquire(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			r()
		}(i)
		// Give each goroutine time to join the queue in order.
		time.Sleep(20 * time.Millisecond)
	}

	rel()
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestWaiterCancellation(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, WaitTimeout: 5 * time.Second}, nil)
	rel, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer rel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx)
		done <- err
	}()

	// Let the waiter enqueue, then cancel it.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("canceled waiter never returned")
	}
	assert.Equal(t, 0, g.Waiting())
}
