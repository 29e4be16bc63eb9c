package jobs

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-assets/internal/assert"
)

// Main is a FIFO executor drained by exactly one goroutine at a time.
type Main struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	draining atomic.Bool
	ran      atomic.Int64
}

func NewMain() *Main {
	return &Main{wake: make(chan struct{}, 1)}
}

// Post queues fn. It never runs fn before returning, even when called
// from a closure already running on Main.
func (m *Main) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued closures.
func (m *Main) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Executed returns the number of closures run so far.
func (m *Main) Executed() int64 { return m.ran.Load() }

func (m *Main) next() (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return fn, true
}

func (m *Main) acquire(ctx context.Context) bool {
	if m.draining.CompareAndSwap(false, true) {
		return true
	}
	assert.Violation(ctx, "main executor drained from two goroutines")
	return false
}

// Drain runs queued closures, including ones they post, until the queue
// is empty. It returns how many ran.
func (m *Main) Drain() int {
	if !m.acquire(context.Background()) {
		return 0
	}
	defer m.draining.Store(false)
	return m.drainLocked()
}

func (m *Main) drainLocked() int {
	n := 0
	for {
		fn, ok := m.next()
		if !ok {
			return n
		}
		fn()
		m.ran.Add(1)
		n++
	}
}

// Run drains Main until ctx is cancelled. Closures still queued at
// cancellation are left for a final Drain.
func (m *Main) Run(ctx context.Context) error {
	if !m.acquire(ctx) {
		return nil
	}
	defer m.draining.Store(false)
	for {
		m.drainLocked()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
		}
	}
}
