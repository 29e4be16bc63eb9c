package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// host tracks a single host's limiter and last activity
type host struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged tracks whether the first-throttle hook already fired; resets
	// when the entry is evicted and re-created
	logged bool
}

// HostLimiter holds per-host rate limiters with background eviction.
type HostLimiter struct {
	mu    sync.Mutex
	hosts map[string]*host

	perSecond rate.Limit
	burst     int

	// ttl controls how long an idle host stays in the map before cleanup evicts it
	ttl time.Duration

	// OnFirstThrottled is called once per host the first time a fetch has
	// to wait for a token
	OnFirstThrottled func(host string)

	// OnThrottled is called every time a fetch has to wait
	OnThrottled func(host string)
}

type Option func(*HostLimiter)

// WithRate sets the refill rate and bucket size. WithRate(10, 50) allows 50
// fetches at once, then refills at 10 fetches per second. A non-positive
// perSecond disables limiting.
func WithRate(perSecond float64, burst int) Option {
	return func(l *HostLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL controls how long an idle host stays in the map before cleanup
func WithTTL(d time.Duration) Option {
	return func(l *HostLimiter) {
		l.ttl = d
	}
}

func WithOnFirstThrottled(fn func(host string)) Option {
	return func(l *HostLimiter) {
		l.OnFirstThrottled = fn
	}
}

func WithOnThrottled(fn func(host string)) Option {
	return func(l *HostLimiter) {
		l.OnThrottled = fn
	}
}

// New creates a HostLimiter and starts the background cleanup goroutine,
// which stops when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *HostLimiter {
	l := &HostLimiter{
		hosts:     make(map[string]*host),
		perSecond: 20,
		burst:     40,
		ttl:       5 * time.Minute,
	}
	for _, o := range opts {
		o(l)
	}
	if l.perSecond <= 0 {
		l.perSecond = rate.Inf
	}
	if l.burst < 1 {
		l.burst = 1
	}
	go l.cleanup(ctx)
	return l
}

func (l *HostLimiter) limiterFor(name string) (*host, bool) {
	h, exists := l.hosts[name]
	if !exists {
		h = &host{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.hosts[name] = h
	}
	h.lastSeen = time.Now()
	return h, exists
}

// Wait blocks until a fetch against name may proceed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, name string) error {
	l.mu.Lock()
	h, _ := l.limiterFor(name)
	throttled := !h.limiter.Allow()
	first := false
	if throttled && !h.logged {
		h.logged = true
		first = true
	}
	lim := h.limiter
	// release before hooks and before blocking so other hosts are not held up
	l.mu.Unlock()

	if !throttled {
		return nil
	}
	if first && l.OnFirstThrottled != nil {
		l.OnFirstThrottled(name)
	}
	if l.OnThrottled != nil {
		l.OnThrottled(name)
	}
	if err := lim.Wait(ctx); err != nil {
		return xerrors.Wrapf(err, "rate limit wait for %s", name)
	}
	return nil
}

// Len returns the number of tracked hosts.
func (l *HostLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

// cleanup periodically evicts hosts that haven't been seen within the TTL.
// Runs every TTL/2 to avoid holding stale entries much longer than intended.
func (l *HostLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *HostLimiter) evict(now time.Time) {
	l.mu.Lock()
	for name, h := range l.hosts {
		if now.Sub(h.lastSeen) > l.ttl {
			delete(l.hosts, name)
		}
	}
	l.mu.Unlock()
}
