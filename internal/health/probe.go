package health

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// Probe is evaluated at request time: nil passes, an error fails with its
// message as the reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// Named prefixes p's failures with name so a combined reason says which
// check failed.
func Named(name string, p Probe) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		if err := p.Check(ctx); err != nil {
			return xerrors.Wrap(err, name)
		}
		return nil
	}
}

// All passes only if every probe passes. Every probe is evaluated and the
// failures are joined, one per line. Nil probes are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// Backlog fails while more than max closures wait on the main executor.
// pending is usually (*jobs.Main).Pending.
func Backlog(pending func() int, max int) CheckFunc {
	return func(context.Context) error {
		if n := pending(); n > max {
			return xerrors.Newf("main executor backlog %d exceeds %d", n, max)
		}
		return nil
	}
}

// Gate holds readiness closed with a reason. The service closes it while
// preloading, opens it once preload completes and closes it again for
// drain. The zero value is open.
type Gate struct {
	reason atomic.Pointer[string]
}

// Set closes the gate. An empty reason reports "closed".
func (g *Gate) Set(reason string) {
	if reason == "" {
		reason = "closed"
	}
	g.reason.Store(&reason)
}

func (g *Gate) Clear() { g.reason.Store(nil) }

// Closed reports whether the gate is closed and why.
func (g *Gate) Closed() (bool, string) {
	r := g.reason.Load()
	if r == nil {
		return false, ""
	}
	return true, *r
}

func (g *Gate) Probe() CheckFunc {
	return func(context.Context) error {
		if closed, reason := g.Closed(); closed {
			return xerrors.New(reason)
		}
		return nil
	}
}
