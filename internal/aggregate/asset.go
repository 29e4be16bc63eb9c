// Package aggregate composes trees of assets described by manifests.
//
// A root Asset fetches a description and a manifest, picks one entry as
// its main content and loads every entry as a child Asset. Loads are
// coalesced per node: a Load requested while one is running schedules a
// single rerun after it, never a concurrent one.
//
// Except for Load, Asset methods must be called on the main executor.
package aggregate

import (
	"context"
	"strings"
	"weak"

	"github.com/keithlinneman/linnemanlabs-assets/internal/assert"
	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/jobs"
	"github.com/keithlinneman/linnemanlabs-assets/internal/loader"
	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/transport"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// DefaultAccepted lists the texture formats considered for main selection
// when none are configured.
var DefaultAccepted = []string{"png", "jpg", "jpeg"}

// Filtering is a texture sampling mode applied to a whole subtree.
type Filtering string

const (
	FilterDefault Filtering = ""
	FilterNearest Filtering = "nearest"
	FilterLinear  Filtering = "linear"
)

// Loader is the part of loader.Service an aggregate uses.
type Loader interface {
	Load(ctx context.Context, id string, h loader.Hints, cb loader.Callback)
}

type Metrics interface {
	IncAggregateLoad(result string)
}

type Options struct {
	Logger  log.Logger
	Metrics Metrics
	Runner  *jobs.Runner
	Loader  Loader
	Source  Source
	// Accepted texture formats for main selection.
	Accepted  []string
	Transport transport.Hints
}

// env is shared by every node of a tree.
type env struct {
	logger    log.Logger
	metrics   Metrics
	runner    *jobs.Runner
	main      *jobs.Main
	loader    Loader
	source    Source
	accepted  []string
	transport transport.Hints
}

type Asset struct {
	env    *env
	id     string
	entry  Descriptor
	origin string
	parent weak.Pointer[Asset]

	props     map[string]any
	filtering Filtering

	content  *content.Shared
	mainDesc Descriptor
	children []*Asset
	err      error

	pending  int
	loading  bool
	rerun    bool
	released bool

	waiters   []func()
	listeners []func(*Asset)
}

// New returns the root of a tree described by id.
func New(id string, opts Options) (*Asset, error) {
	if opts.Runner == nil || opts.Loader == nil || opts.Source == nil {
		return nil, xerrors.New("aggregate: Runner, Loader and Source are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	accepted := opts.Accepted
	if len(accepted) == 0 {
		accepted = DefaultAccepted
	}
	norm := make([]string, 0, len(accepted))
	for _, f := range accepted {
		norm = append(norm, strings.ToLower(strings.TrimPrefix(f, ".")))
	}
	e := &env{
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		runner:    opts.Runner,
		main:      opts.Runner.Main(),
		loader:    opts.Loader,
		source:    opts.Source,
		accepted:  norm,
		transport: opts.Transport,
	}
	return &Asset{env: e, id: id, entry: Descriptor{ID: id, Manifest: id}}, nil
}

func (a *Asset) ID() string { return a.id }

// Content returns the main content, or nil before the first load and after
// a failed one. The handle stays owned by the asset.
func (a *Asset) Content() *content.Shared { return a.content }

// Main returns the entry selected as main content.
func (a *Asset) Main() Descriptor { return a.mainDesc }

func (a *Asset) Children() []*Asset { return a.children }

// Parent returns the parent node, or nil for roots and detached children.
func (a *Asset) Parent() *Asset { return a.parent.Value() }

// Err returns the error of the last load, if any.
func (a *Asset) Err() error { return a.err }

// Loading reports whether a load is in progress.
func (a *Asset) Loading() bool { return a.loading }

func (a *Asset) Filtering() Filtering { return a.filtering }

// aggregate reports whether the node is described by a manifest rather
// than a single payload.
func (a *Asset) aggregate() bool { return a.entry.Manifest != "" }

// Load (re)loads the subtree. It may be called from any goroutine.
func (a *Asset) Load(ctx context.Context) {
	a.env.main.Post(func() { a.start(ctx, nil) })
}

// OnLoaded registers fn to run on the main executor after every completed
// load of this node, including its subtree.
func (a *Asset) OnLoaded(fn func(*Asset)) {
	a.listeners = append(a.listeners, fn)
}

// Lookup finds key in this node's properties, then in its ancestors'.
func (a *Asset) Lookup(key string) (any, bool) {
	for n := a; n != nil; n = n.parent.Value() {
		if v, ok := n.props[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// SetFiltering applies f to this node and every descendant.
func (a *Asset) SetFiltering(f Filtering) {
	a.filtering = f
	for _, c := range a.children {
		c.SetFiltering(f)
	}
}

// start runs on the main executor. done, when set, fires once the load it
// joined has finished.
func (a *Asset) start(ctx context.Context, done func()) {
	if done != nil {
		a.waiters = append(a.waiters, done)
	}
	if a.loading {
		a.rerun = true
		return
	}
	a.loading = true
	a.err = nil
	// held for the span of start; released by done
	a.pending = 1

	if !a.aggregate() {
		a.loadContent(ctx, a.entry, a.origin)
		a.done(ctx)
		return
	}

	type plan struct {
		desc     Description
		manifest []Descriptor
	}
	src := a.env.source
	jobs.Go(ctx, a.env.runner,
		func(ctx context.Context) (plan, error) {
			desc, err := src.Describe(ctx, a.entry.Manifest)
			if err != nil {
				return plan{}, err
			}
			m, err := src.Manifest(ctx, desc)
			if err != nil {
				return plan{}, err
			}
			return plan{desc: desc, manifest: m}, nil
		},
		func(p plan, err error) {
			if err != nil {
				a.env.logger.Error(ctx, err, "aggregate description failed", "id", a.id)
				a.err = err
			} else {
				a.build(ctx, p.desc, p.manifest)
			}
			a.done(ctx)
		},
	)
}

// build replaces the subtree from a fetched manifest.
func (a *Asset) build(ctx context.Context, desc Description, manifest []Descriptor) {
	if desc.Properties != nil {
		a.props = desc.Properties
	}

	for _, c := range a.children {
		c.Release()
	}
	a.children = make([]*Asset, 0, len(manifest))
	for _, d := range manifest {
		child := &Asset{
			env:       a.env,
			id:        d.ID,
			entry:     d,
			origin:    desc.URL,
			parent:    weak.Make(a),
			props:     d.Properties,
			filtering: a.filtering,
		}
		a.children = append(a.children, child)
	}

	if sel, ok := SelectMain(desc.URL, manifest, a.env.accepted); ok {
		a.mainDesc = sel
		a.loadContent(ctx, sel, desc.URL)
	} else {
		a.env.logger.Warn(ctx, "aggregate has no main content", "id", a.id, "entries", len(manifest))
	}

	for _, c := range a.children {
		a.pending++
		c.start(ctx, func() { a.done(ctx) })
	}
}

func (a *Asset) loadContent(ctx context.Context, d Descriptor, origin string) {
	a.pending++
	a.env.loader.Load(ctx, d.ID, loader.Hints{
		Origin:    origin,
		Format:    d.Format,
		Width:     d.Width,
		Height:    d.Height,
		Transport: a.env.transport,
	}, func(sh *content.Shared) {
		if sh == nil {
			a.err = xerrors.Newf("load %s failed", d.ID)
		}
		a.setContent(sh)
		a.done(ctx)
	})
}

func (a *Asset) setContent(sh *content.Shared) {
	if a.content != nil {
		a.content.Release()
	}
	a.content = sh
}

func (a *Asset) done(ctx context.Context) {
	a.pending--
	if a.pending < 0 {
		assert.Violation(ctx, "aggregate pending count went negative", "id", a.id)
		a.pending = 0
	}
	if a.pending > 0 {
		return
	}
	a.loading = false
	switch {
	case a.released:
		a.rerun = false
		a.releaseNow()
	case a.rerun:
		a.rerun = false
		a.start(ctx, nil)
		return
	}

	if a.env.metrics != nil && a.parent.Value() == nil {
		result := "ok"
		if a.err != nil {
			result = "error"
		}
		a.env.metrics.IncAggregateLoad(result)
	}
	waiters := a.waiters
	a.waiters = nil
	for _, w := range waiters {
		w()
	}
	for _, fn := range a.listeners {
		fn(a)
	}
}

// Release drops every content reference held by the subtree. A node that
// is still loading releases once its load finishes.
func (a *Asset) Release() {
	if a.loading {
		a.released = true
		return
	}
	a.releaseNow()
}

func (a *Asset) releaseNow() {
	a.released = false
	a.setContent(nil)
	for _, c := range a.children {
		c.Release()
	}
}
