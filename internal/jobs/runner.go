package jobs

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

var (
	// ErrClosed is delivered to commits of work submitted after Close.
	ErrClosed = errors.New("jobs: runner closed")
	// ErrPanicked marks work bodies that panicked.
	ErrPanicked = errors.New("jobs: work panicked")
)

// Work is a job body. It runs on a worker goroutine and must only write to
// values it owns.
type Work func(ctx context.Context) (any, error)

// Commit receives the body's result on Main.
type Commit func(result any, err error)

type RunnerOptions struct {
	Logger log.Logger
	// Workers bounds concurrent bodies; zero uses GOMAXPROCS.
	Workers int
}

type Runner struct {
	main   *Main
	sem    *semaphore.Weighted
	logger log.Logger

	wg      sync.WaitGroup
	closed  atomic.Bool
	running atomic.Int64
}

func NewRunner(main *Main, opts RunnerOptions) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Runner{
		main:   main,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: opts.Logger,
	}
}

func (r *Runner) Main() *Main { return r.main }

// Submit schedules work on the pool and commit on Main after work returns.
// Started jobs are not cancellable: work receives a context detached from
// ctx's cancellation that still carries its values (logger, trace).
func (r *Runner) Submit(ctx context.Context, work Work, commit Commit) {
	if r.closed.Load() {
		r.main.Post(func() { commit(nil, xerrors.WithStack(ErrClosed)) })
		return
	}
	jobCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// jobCtx is never cancelled, so Acquire only returns once a slot frees
		_ = r.sem.Acquire(jobCtx, 1)
		r.running.Add(1)
		result, err := r.run(jobCtx, work)
		r.running.Add(-1)
		r.sem.Release(1)
		r.main.Post(func() { commit(result, err) })
	}()
}

func (r *Runner) run(ctx context.Context, work Work) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = xerrors.Mark(xerrors.Newf("job panicked: %v", p), ErrPanicked)
			r.logger.Error(ctx, err, "job body panicked")
			result = nil
		}
	}()
	return work(ctx)
}

// Running returns the number of bodies currently executing.
func (r *Runner) Running() int { return int(r.running.Load()) }

// Wait blocks until every submitted body has finished and posted its
// commit. Commits still need Main to be drained.
func (r *Runner) Wait() { r.wg.Wait() }

// Close rejects further submissions. Jobs already submitted complete.
func (r *Runner) Close() { r.closed.Store(true) }

// Go is the typed form of Submit.
func Go[T any](ctx context.Context, r *Runner, work func(ctx context.Context) (T, error), commit func(T, error)) {
	r.Submit(ctx,
		func(ctx context.Context) (any, error) { return work(ctx) },
		func(result any, err error) {
			v, _ := result.(T)
			commit(v, err)
		},
	)
}
