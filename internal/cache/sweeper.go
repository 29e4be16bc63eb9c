package cache

import (
	"context"
	"time"

	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
)

const DefaultSweepInterval = 30 * time.Second

// Poster schedules a closure on the main executor.
type Poster interface {
	Post(fn func())
}

type SweepMetrics interface {
	ObserveSweep(evicted int)
	SetCacheEntries(n int)
}

type SweeperOptions struct {
	Logger   log.Logger
	Cache    *Cache
	Main     Poster
	InFlight func(id string) bool
	Interval time.Duration
	Metrics  SweepMetrics
}

// Sweeper periodically schedules Cache.Sweep on the main executor.
type Sweeper struct {
	logger   log.Logger
	cache    *Cache
	main     Poster
	inFlight func(string) bool
	interval time.Duration
	metrics  SweepMetrics
}

func NewSweeper(opts SweeperOptions) *Sweeper {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	return &Sweeper{
		logger:   opts.Logger,
		cache:    opts.Cache,
		main:     opts.Main,
		inFlight: opts.InFlight,
		interval: opts.Interval,
		metrics:  opts.Metrics,
	}
}

// Run ticks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info(ctx, "cache sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "cache sweeper stopped")
			return
		case <-ticker.C:
			s.main.Post(func() { s.SweepNow(ctx) })
		}
	}
}

// SweepNow sweeps synchronously. Call it on the main executor.
func (s *Sweeper) SweepNow(ctx context.Context) int {
	n := s.cache.Sweep(s.inFlight)
	if s.metrics != nil {
		s.metrics.ObserveSweep(n)
		s.metrics.SetCacheEntries(s.cache.Len())
	}
	if n > 0 {
		s.logger.Debug(ctx, "cache sweep evicted entries", "evicted", n, "remaining", s.cache.Len())
	}
	return n
}
