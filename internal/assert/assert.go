// Package assert reports broken internal invariants: lock rows that should
// exist, counters that would go negative, bones missing from a pose.
//
// Builds tagged "debug" panic on a violation. Release builds log the
// violation and let the caller degrade to a no-op.
package assert

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

var (
	violations atomic.Int64
	fallback   atomic.Value // log.Logger
)

// SetLogger sets the logger used when a violation's context carries none.
func SetLogger(l log.Logger) {
	if l != nil {
		fallback.Store(l)
	}
}

func loggerFor(ctx context.Context) log.Logger {
	if l, ok := log.Lookup(ctx); ok {
		return l
	}
	if l, ok := fallback.Load().(log.Logger); ok {
		return l
	}
	return log.Nop()
}

// Violation records a broken invariant. It panics when built with the debug
// tag; otherwise it logs through the context logger and returns.
func Violation(ctx context.Context, msg string, kv ...any) {
	violations.Add(1)
	if fatal {
		panic(fmt.Sprintf("invariant violation: %s %v", msg, kv))
	}
	loggerFor(ctx).Error(ctx, xerrors.New(msg), "invariant violation", kv...)
}

// Violations returns the number of violations seen by this process.
func Violations() int64 { return violations.Load() }
