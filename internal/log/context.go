package log

import "context"

type ctxKey struct{}

// WithContext returns a child context carrying l.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger carried by ctx, or Nop if there is none.
func FromContext(ctx context.Context) Logger {
	if l, ok := Lookup(ctx); ok {
		return l
	}
	return Nop()
}

// Lookup reports the Logger carried by ctx, if any.
func Lookup(ctx context.Context) (Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	l, ok := ctx.Value(ctxKey{}).(Logger)
	return l, ok && l != nil
}
