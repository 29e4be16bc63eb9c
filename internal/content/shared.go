package content

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-assets/internal/assert"
)

// Shared is a reference-counted Content handle. Lifetime is the longest
// holder; the value itself is immutable after publication.
type Shared struct {
	value Content
	refs  atomic.Int64
}

// NewShared wraps c with a reference count of one, owned by the caller.
func NewShared(c Content) *Shared {
	s := &Shared{value: c}
	s.refs.Store(1)
	return s
}

func (s *Shared) Value() Content { return s.value }
func (s *Shared) ID() string     { return s.value.ID() }
func (s *Shared) Kind() Kind     { return s.value.Kind() }
func (s *Shared) Refs() int64    { return s.refs.Load() }

// Retain adds a reference and returns s for chaining.
func (s *Shared) Retain() *Shared {
	s.refs.Add(1)
	return s
}

// RetainN adds n references at once.
func (s *Shared) RetainN(n int) {
	if n > 0 {
		s.refs.Add(int64(n))
	}
}

// Release drops one reference and reports whether it was the last.
// Releasing past zero is an invariant violation and leaves the count at zero.
func (s *Shared) Release() bool {
	n := s.refs.Add(-1)
	if n < 0 {
		s.refs.Store(0)
		assert.Violation(context.Background(), "content released more times than retained", "id", s.ID())
		return false
	}
	return n == 0
}
