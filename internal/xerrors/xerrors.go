package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// withStack carries the program counters captured where the error was created.
type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

// wrap adds a message and the single caller PC of the wrap site.
type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

// marked attaches a classification sentinel without changing the message.
// errors.Is matches both the sentinel and the original chain.
type marked struct {
	err  error
	kind error
}

func (m *marked) Error() string     { return m.err.Error() }
func (m *marked) Unwrap() []error   { return []error{m.err, m.kind} }
func (m *marked) IsXerrorsWrapper() {}

func captureStack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// 2 skips runtime.Callers and captureStack itself
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: captureStack(skip)}
}

// New returns an error with msg and a captured stack.
func New(msg string) error { return withStackSkip(errors.New(msg), 2) }

// Newf formats like fmt.Errorf and captures a stack. %w verbs are honored.
func Newf(format string, args ...any) error {
	return withStackSkip(fmt.Errorf(format, args...), 2)
}

// WithStack captures a stack on err unconditionally.
func WithStack(err error) error { return withStackSkip(err, 2) }

// EnsureTrace captures a stack on err only if nothing in its chain has one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStackSkip(err, 2)
}

// Wrap prefixes err with msg. Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf prefixes err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// Mark tags err with kind so that errors.Is(result, kind) holds.
// The message is unchanged. Returns nil if err is nil.
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	if kind == nil || errors.Is(err, kind) {
		return err
	}
	return &marked{err: err, kind: kind}
}
