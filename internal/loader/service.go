package loader

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/keithlinneman/linnemanlabs-assets/internal/archive"
	"github.com/keithlinneman/linnemanlabs-assets/internal/cache"
	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/coordinator"
	"github.com/keithlinneman/linnemanlabs-assets/internal/decode"
	"github.com/keithlinneman/linnemanlabs-assets/internal/jobs"
	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-assets/internal/remap"
	"github.com/keithlinneman/linnemanlabs-assets/internal/sniff"
	"github.com/keithlinneman/linnemanlabs-assets/internal/transport"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// Callback receives loaded content, or nil when the load failed. A non-nil
// handle carries one reference owned by the callback.
type Callback func(*content.Shared)

// Hints describe a load request. Format, SubFormat, Width and Height are
// declared properties; a recognized Format bypasses sniffing.
type Hints struct {
	// Origin is the identifier of a logical parent; archive siblings of it
	// are resolved before anything else.
	Origin    string
	Format    string
	SubFormat string
	Width     int
	Height    int
	// ArchiveBlock marks the payload as a texture archive.
	ArchiveBlock bool
	// Refresh redecodes even when the identifier is cached.
	Refresh bool
	// Transport is passed to the fetcher untouched.
	Transport transport.Hints
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncLoad(result string)
	IncFailure(kind string)
	ObserveDecode(kind, result string, seconds float64)
	IncCoalesced()
	IncRefresh()
	SetInflight(n int)
	SetCacheEntries(n int)
}

type nopMetrics struct{}

func (nopMetrics) IncLoad(string)                        {}
func (nopMetrics) IncFailure(string)                     {}
func (nopMetrics) ObserveDecode(string, string, float64) {}
func (nopMetrics) IncCoalesced()                         {}
func (nopMetrics) IncRefresh()                           {}
func (nopMetrics) SetInflight(int)                       {}
func (nopMetrics) SetCacheEntries(int)                   {}

type Options struct {
	Logger  log.Logger
	Metrics Metrics

	Runner   *jobs.Runner
	Fetcher  transport.Fetcher
	Remap    *remap.Table
	Archives *archive.Index
	Decoders *decode.Registry

	// Cache and Registry are created when nil.
	Cache    *cache.Cache
	Registry *coordinator.Registry
}

// Service loads, caches and shares decoded content.
type Service struct {
	logger  log.Logger
	metrics Metrics

	runner   *jobs.Runner
	main     *jobs.Main
	fetcher  transport.Fetcher
	remap    *remap.Table
	archives *archive.Index
	decoders *decode.Registry
	cache    *cache.Cache
	registry *coordinator.Registry

	closed atomic.Bool
}

func New(opts Options) (*Service, error) {
	if opts.Runner == nil {
		return nil, xerrors.New("loader: Runner is required")
	}
	if opts.Fetcher == nil {
		return nil, xerrors.New("loader: Fetcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Remap == nil {
		opts.Remap = remap.New(nil)
	}
	if opts.Archives == nil {
		opts.Archives = archive.NewIndex(nil, nil)
	}
	if opts.Decoders == nil {
		opts.Decoders = decode.NewRegistry(nil)
	}
	if opts.Cache == nil {
		opts.Cache = cache.New()
	}
	if opts.Registry == nil {
		opts.Registry = coordinator.New()
	}
	return &Service{
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		runner:   opts.Runner,
		main:     opts.Runner.Main(),
		fetcher:  opts.Fetcher,
		remap:    opts.Remap,
		archives: opts.Archives,
		decoders: opts.Decoders,
		cache:    opts.Cache,
		registry: opts.Registry,
	}, nil
}

func (s *Service) Cache() *cache.Cache             { return s.cache }
func (s *Service) Registry() *coordinator.Registry { return s.registry }
func (s *Service) Archives() *archive.Index        { return s.archives }
func (s *Service) Main() *jobs.Main                { return s.main }
func (s *Service) Fetcher() transport.Fetcher      { return s.fetcher }

// Canonical returns the cache key id resolves to: the remapped identifier,
// or the archive-qualified path when a mount holds it.
func (s *Service) Canonical(id, origin string) string {
	id = s.remap.Resolve(id)
	if c, ok := s.archives.Resolve(id, origin); ok {
		return c
	}
	return id
}

// Load requests id and eventually calls cb on the main executor. It may be
// called from any goroutine.
func (s *Service) Load(ctx context.Context, id string, h Hints, cb Callback) {
	if cb == nil {
		cb = discard
	}
	if s.closed.Load() {
		s.main.Post(func() { cb(nil) })
		return
	}
	key := s.Canonical(id, h.Origin)

	t, hit := s.registry.Acquire(ctx, key, h.Refresh, s.cache, coordinator.Callback(cb))
	if hit != nil {
		s.metrics.IncLoad("hit")
		s.main.Post(func() { cb(hit) })
		return
	}
	switch t.Role {
	case coordinator.Waiter:
		s.metrics.IncCoalesced()
		return
	case coordinator.Refresher:
		s.metrics.IncRefresh()
	}
	s.metrics.SetInflight(s.registry.Len())

	s.logger.Debug(ctx, "loading asset", "id", key, "role", t.Role.String())
	jobs.Go(ctx, s.runner,
		func(ctx context.Context) (*loaded, error) { return s.produce(ctx, key, h) },
		func(res *loaded, err error) { s.commit(ctx, t, res, err, cb) },
	)
}

func discard(sh *content.Shared) {
	if sh != nil {
		sh.Release()
	}
}

// LoadAll loads every id, releasing each result, and calls done on the
// main executor once all of them finished.
func (s *Service) LoadAll(ctx context.Context, ids []string, h Hints, done func(loaded, failed int)) {
	remaining := len(ids)
	if remaining == 0 {
		if done != nil {
			s.main.Post(func() { done(0, 0) })
		}
		return
	}
	ok, failed := 0, 0
	for _, id := range ids {
		s.Load(ctx, id, h, func(sh *content.Shared) {
			if sh != nil {
				ok++
				sh.Release()
			} else {
				failed++
			}
			if remaining--; remaining == 0 && done != nil {
				done(ok, failed)
			}
		})
	}
}

// loaded is the private result of a job body.
type loaded struct {
	content content.Content
	// embedded holds an archive section found after image data.
	embedded []byte
}

func (s *Service) produce(ctx context.Context, id string, h Hints) (*loaded, error) {
	data, err := s.fetch(ctx, id, h)
	if err != nil {
		return nil, &LoadError{ID: id, Kind: FailureTransport, Err: err}
	}

	kind, err := sniff.Classify(data, sniff.Hints{Format: h.Format, ArchiveBlock: h.ArchiveBlock})
	if err != nil {
		return nil, &LoadError{ID: id, Kind: FailureClassification, Err: err}
	}

	c, err := s.decode(ctx, kind, id, data, decode.Hints{
		Format:    h.Format,
		SubFormat: h.SubFormat,
		Width:     h.Width,
		Height:    h.Height,
	})
	if err != nil {
		return nil, &LoadError{ID: id, Kind: FailureDecode, Err: err}
	}

	res := &loaded{content: c}
	if img, ok := c.(*content.Image); ok && img.EmbeddedArchive {
		// taken from the decoder, which saw the raster inside JSON records
		res.embedded, img.Trailer = img.Trailer, nil
	}
	return res, nil
}

// fetch consults the archive index before the transport.
func (s *Service) fetch(ctx context.Context, id string, h Hints) ([]byte, error) {
	data, _, ok, err := s.archives.Lookup(id, "")
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}
	return s.fetcher.Fetch(ctx, id, h.Transport)
}

func (s *Service) decode(ctx context.Context, kind content.Kind, id string, data []byte, h decode.Hints) (c content.Content, err error) {
	ctx, span := otelx.Tracer("loader").Start(ctx, "loader.decode")
	span.SetAttributes(
		attribute.String("asset.id", id),
		attribute.String("asset.kind", kind.String()),
		attribute.Int("asset.bytes", len(data)),
	)
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.ObserveDecode(kind.String(), result, time.Since(start).Seconds())
		otelx.End(span, err)
	}()
	return s.decoders.Decode(ctx, kind, id, data, h)
}

// commit runs on the main executor.
func (s *Service) commit(ctx context.Context, t coordinator.Ticket, res *loaded, err error, cb Callback) {
	defer func() {
		s.metrics.SetInflight(s.registry.Len())
		s.metrics.SetCacheEntries(s.cache.Len())
	}()

	publish := func(sh *content.Shared) { s.cache.Put(t.ID, sh) }

	if err != nil {
		kind := Failure(err)
		if errors.Is(err, jobs.ErrPanicked) {
			kind = FailureDecode
		}
		s.metrics.IncLoad("failure")
		s.metrics.IncFailure(kind.String())
		if errors.Is(err, transport.ErrNotFound) {
			s.logger.Warn(ctx, "asset not found", "id", t.ID)
		} else {
			s.logger.Error(ctx, err, "asset load failed", "id", t.ID, "failure", kind.String())
		}
		s.registry.Complete(ctx, t, nil, publish, coordinator.Callback(cb))
		return
	}

	if !s.registry.Current(t) {
		// stale generation: hand the result back without touching the index
		s.registry.Complete(ctx, t, content.NewShared(res.content), publish, coordinator.Callback(cb))
		return
	}
	if res.embedded != nil {
		if _, err := s.archives.MountBytes(t.ID, res.embedded); err != nil {
			s.logger.Warn(ctx, "embedded archive could not be opened", "id", t.ID, "error", err.Error())
		}
	}
	if aw, ok := res.content.(*content.ArchiveWrapper); ok {
		s.archives.Mount(t.ID, aw.Archive)
	}

	s.metrics.IncLoad("ok")
	s.logger.Debug(ctx, "asset loaded", "id", t.ID, "summary", content.Summary(res.content))
	s.registry.Complete(ctx, t, content.NewShared(res.content), publish, coordinator.Callback(cb))
}

// Reset drops every cache entry, archive mount and in-flight row. Loads
// still running finish against the old generation and are never published.
// Holders of handles keep them until they release.
func (s *Service) Reset() {
	s.registry.Reset()
	s.cache.Reset()
	s.archives.Reset()
	s.metrics.SetInflight(0)
	s.metrics.SetCacheEntries(0)
}

// Shutdown rejects new loads, waits for running jobs to commit and resets
// the service. The main executor must keep draining until it returns.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.runner.Close()

	waited := make(chan struct{})
	go func() {
		s.runner.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return xerrors.Wrap(ctx.Err(), "waiting for load jobs")
	}

	// every commit is queued by now; the barrier runs after them
	done := make(chan struct{})
	s.main.Post(func() {
		s.Reset()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(ctx.Err(), "waiting for commits")
	}
}

type Stats struct {
	Cache          cache.Stats    `json:"cache"`
	InFlight       map[string]int `json:"in_flight"`
	Mounts         []string       `json:"mounts"`
	Aliases        int            `json:"aliases"`
	RunningJobs    int            `json:"running_jobs"`
	PendingCommits int            `json:"pending_commits"`
	Closed         bool           `json:"closed"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Cache:          s.cache.Stats(),
		InFlight:       s.registry.Snapshot(),
		Mounts:         s.archives.Mounts(),
		Aliases:        s.remap.Len(),
		RunningJobs:    s.runner.Running(),
		PendingCommits: s.main.Pending(),
		Closed:         s.closed.Load(),
	}
}
