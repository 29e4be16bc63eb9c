// Package coordinator elects one owner per in-flight identifier and parks
// everyone else until the owner commits.
//
// A row exists for an identifier while any load of it is in flight. The
// first request for an uncached identifier becomes the Owner and decodes;
// concurrent requests become Waiters whose callbacks are parked on the row
// and fanned out by the owner's commit. Requests that explicitly refresh a
// cached identifier become Refreshers: they are counted on the row (so a
// sweep leaves the entry alone) but decode independently, without mutual
// exclusion among themselves.
//
// Reference contract: every callback that receives a non-nil handle owns
// one reference to it and must Release it.
package coordinator

import (
	"context"
	"maps"
	"sync"

	"github.com/keithlinneman/linnemanlabs-assets/internal/assert"
	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
)

type Role int

const (
	Owner Role = iota + 1
	Waiter
	Refresher
)

func (r Role) String() string {
	switch r {
	case Owner:
		return "owner"
	case Waiter:
		return "waiter"
	case Refresher:
		return "refresher"
	default:
		return "none"
	}
}

// Callback receives the loaded content, or nil on failure.
type Callback func(*content.Shared)

// PublishFunc inserts a fully decoded handle into the cache. The handle's
// initial reference becomes the cache's.
type PublishFunc func(*content.Shared)

// Ticket identifies one caller's participation in a load.
type Ticket struct {
	ID    string
	Role  Role
	epoch uint64
}

type row struct {
	loading int
	owner   bool
	waiters []Callback
}

type Registry struct {
	mu    sync.Mutex
	rows  map[string]*row
	epoch uint64
}

func New() *Registry {
	return &Registry{rows: make(map[string]*row)}
}

// Begin registers interest in id. cached reports whether a cache entry
// exists; callers only reach Begin for a cached identifier when they want
// a refresh. For a Waiter, cb is parked and invoked by the owner's commit;
// Owners and Refreshers pass their callback to Complete instead.
func (r *Registry) Begin(ctx context.Context, id string, cached bool, cb Callback) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.begin(id, cached, cb)
}

// Store is the part of the cache Acquire consults.
type Store interface {
	Get(id string) *content.Shared
	Contains(id string) bool
}

// Acquire is Begin with the cache lookup done under the registry lock.
// Complete publishes under the same lock, so a lookup never falls between
// an owner's publish and the removal of its row.
//
// Unless refresh is set, a cached id returns the retained handle and a
// zero Ticket; cb is not used. Otherwise the ticket is issued as by Begin.
func (r *Registry) Acquire(ctx context.Context, id string, refresh bool, store Store, cb Callback) (Ticket, *content.Shared) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !refresh {
		if hit := store.Get(id); hit != nil {
			return Ticket{ID: id}, hit
		}
		return r.begin(id, false, cb), nil
	}
	return r.begin(id, store.Contains(id), cb), nil
}

// begin runs with r.mu held.
func (r *Registry) begin(id string, cached bool, cb Callback) Ticket {
	t := Ticket{ID: id, epoch: r.epoch}
	rw := r.rows[id]
	switch {
	case rw != nil && rw.owner:
		rw.loading++
		rw.waiters = append(rw.waiters, cb)
		t.Role = Waiter
	case cached:
		if rw == nil {
			rw = &row{}
			r.rows[id] = rw
		}
		rw.loading++
		t.Role = Refresher
	default:
		// no owner and nothing cached; a row held only by refreshers is
		// promoted so waiters have someone to wait on
		if rw == nil {
			rw = &row{}
			r.rows[id] = rw
		}
		rw.loading++
		rw.owner = true
		t.Role = Owner
	}
	return t
}

// Complete finishes an Owner or Refresher ticket. It must run on the main
// executor.
//
// On success the handle is published and the row updated inside one
// critical section, so nobody observes the cache entry while the owner
// mark is still set. Callbacks then run outside the lock, the completing
// caller first. On failure (shared == nil) nothing is published and parked
// waiters receive nil; the next request starts a fresh load.
//
// A ticket from before the last Reset is stale: its result is handed to cb
// without publishing.
func (r *Registry) Complete(ctx context.Context, t Ticket, shared *content.Shared, publish PublishFunc, cb Callback) {
	r.mu.Lock()
	if t.epoch != r.epoch {
		r.mu.Unlock()
		deliver(cb, shared)
		return
	}

	rw := r.rows[t.ID]
	if rw == nil {
		r.mu.Unlock()
		assert.Violation(ctx, "completing a load with no in-flight row", "id", t.ID, "role", t.Role.String())
		deliver(cb, shared)
		return
	}

	var waiters []Callback
	switch t.Role {
	case Owner:
		if !rw.owner {
			r.mu.Unlock()
			assert.Violation(ctx, "owner completed a row it does not own", "id", t.ID)
			deliver(cb, shared)
			return
		}
		waiters = rw.waiters
		rw.waiters = nil
		rw.owner = false
		r.release(ctx, t.ID, rw, 1+len(waiters))
	case Refresher:
		r.release(ctx, t.ID, rw, 1)
	default:
		r.mu.Unlock()
		assert.Violation(ctx, "complete called with a waiter ticket", "id", t.ID)
		return
	}

	if shared != nil {
		publish(shared)
		// the initial reference now belongs to the cache; one more per callback
		shared.RetainN(1 + len(waiters))
	}
	r.mu.Unlock()

	if cb != nil {
		cb(shared)
	}
	for _, w := range waiters {
		w(shared)
	}
}

// release drops n interested callers from rw. Callers hold r.mu.
func (r *Registry) release(ctx context.Context, id string, rw *row, n int) {
	rw.loading -= n
	if rw.loading < 0 {
		assert.Violation(ctx, "in-flight count went negative", "id", id, "loading", rw.loading)
		rw.loading = 0
	}
	if rw.loading == 0 {
		if rw.owner || len(rw.waiters) > 0 {
			assert.Violation(ctx, "dropping a row that still has an owner or waiters", "id", id)
		}
		delete(r.rows, id)
	}
}

// deliver hands an unpublished handle's only reference to cb.
func deliver(cb Callback, shared *content.Shared) {
	if cb != nil {
		cb(shared)
	} else if shared != nil {
		shared.Release()
	}
}

// InFlight reports whether any load of id is in flight.
func (r *Registry) InFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[id]
	return ok
}

// Current reports whether t was issued since the last Reset.
func (r *Registry) Current(t Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.epoch == r.epoch
}

// Len returns the number of identifiers in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Snapshot returns the in-flight count per identifier.
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.rows))
	for id, rw := range r.rows {
		out[id] = rw.loading
	}
	return out
}

// Reset forgets every row. Parked waiters receive nil; loads still running
// complete against a stale ticket and never publish.
func (r *Registry) Reset() {
	r.mu.Lock()
	rows := maps.Clone(r.rows)
	clear(r.rows)
	r.epoch++
	r.mu.Unlock()

	for _, rw := range rows {
		for _, w := range rw.waiters {
			w(nil)
		}
	}
}
