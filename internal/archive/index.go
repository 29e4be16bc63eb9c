package archive

import (
	"path"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/keithlinneman/linnemanlabs-assets/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// Mount is an opened archive registered under a prefix.
type Mount struct {
	Prefix string
	Handle Handle
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	SetArchiveMounts(n int)
}

// Index is the registry of archive mounts. It is read-mostly: lookups take
// a read lock, mounting takes the write lock.
type Index struct {
	codec   Codec
	metrics Metrics

	mu     sync.RWMutex
	mounts map[string]Handle

	opening singleflight.Group
}

// NewIndex returns an empty index that opens archives with codec. A nil
// codec uses TarCodec with default limits.
func NewIndex(codec Codec, m Metrics) *Index {
	if codec == nil {
		codec = TarCodec{}
	}
	return &Index{codec: codec, metrics: m, mounts: make(map[string]Handle)}
}

func normalizePrefix(p string) string { return strings.TrimSuffix(p, "/") }

// Mount registers h under prefix, replacing any mount already there.
func (x *Index) Mount(prefix string, h Handle) {
	prefix = normalizePrefix(prefix)
	x.mu.Lock()
	x.mounts[prefix] = h
	n := len(x.mounts)
	x.mu.Unlock()
	if x.metrics != nil {
		x.metrics.SetArchiveMounts(n)
	}
}

// MountBytes opens data with the index codec and mounts it under prefix.
// If prefix is already mounted the existing handle is returned and data is
// ignored. Concurrent calls for the same prefix open the archive once.
func (x *Index) MountBytes(prefix string, data []byte) (Handle, error) {
	prefix = normalizePrefix(prefix)
	if h, ok := x.handle(prefix); ok {
		return h, nil
	}
	v, err, _ := x.opening.Do(prefix, func() (any, error) {
		if h, ok := x.handle(prefix); ok {
			return h, nil
		}
		h, err := x.codec.Open(data)
		if err != nil {
			return nil, xerrors.Wrapf(err, "open archive %s", prefix)
		}
		x.Mount(prefix, h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

func (x *Index) handle(prefix string) (Handle, bool) {
	x.mu.RLock()
	h, ok := x.mounts[prefix]
	x.mu.RUnlock()
	return h, ok
}

// Has reports whether prefix is mounted.
func (x *Index) Has(prefix string) bool {
	_, ok := x.handle(normalizePrefix(prefix))
	return ok
}

// Mounts returns the mounted prefixes in sorted order.
func (x *Index) Mounts() []string {
	x.mu.RLock()
	out := make([]string, 0, len(x.mounts))
	for p := range x.mounts {
		out = append(out, p)
	}
	x.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.mounts)
}

// Reset drops every mount.
func (x *Index) Reset() {
	x.mu.Lock()
	clear(x.mounts)
	x.mu.Unlock()
	if x.metrics != nil {
		x.metrics.SetArchiveMounts(0)
	}
}

// owner returns the longest mounted prefix that owns id, and the sub-path
// of id inside it.
func (x *Index) owner(id string) (string, string, Handle, bool) {
	var (
		bestPrefix, bestSub string
		best                Handle
	)
	for prefix, h := range x.mounts {
		sub, ok := pathutil.SplitPrefix(id, prefix)
		if !ok || len(prefix) <= len(bestPrefix) {
			continue
		}
		bestPrefix, bestSub, best = prefix, sub, h
	}
	return bestPrefix, bestSub, best, best != nil
}

// Lookup finds the mount that owns id and extracts its bytes.
//
// When origin is set, id is first tried as a sibling of origin: if origin
// is itself a mount, id is looked up at that archive's root; if origin
// lives inside a mount, id is looked up next to origin and then at the
// archive root. Otherwise the mount whose prefix owns id is used.
//
// On success canonical is prefix + "/" + sub-path. ok is false when no
// mount holds the item; err is set only when a mount claimed the item but
// could not extract it.
func (x *Index) Lookup(id, origin string) (data []byte, canonical string, ok bool, err error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	prefix, sub, h, found := x.locate(id, origin)
	if !found {
		return nil, "", false, nil
	}
	data, err = h.Extract(sub)
	if err != nil {
		return nil, "", false, xerrors.Wrapf(err, "extract %s from %s", sub, prefix)
	}
	return data, prefix + "/" + sub, true, nil
}

// Resolve is Lookup without the extraction: it returns the canonical
// identifier of the archived item id refers to.
func (x *Index) Resolve(id, origin string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	prefix, sub, _, found := x.locate(id, origin)
	if !found {
		return "", false
	}
	return prefix + "/" + sub, true
}

func (x *Index) locate(id, origin string) (string, string, Handle, bool) {
	if len(x.mounts) == 0 {
		return "", "", nil, false
	}
	if origin != "" {
		if prefix, sub, h, found := x.sibling(id, origin); found {
			return prefix, sub, h, true
		}
	}
	prefix, sub, h, found := x.owner(id)
	if !found || !h.HasItem(sub) {
		return "", "", nil, false
	}
	return prefix, sub, h, true
}

func (x *Index) sibling(id, origin string) (string, string, Handle, bool) {
	rel, err := pathutil.CleanRelative(id)
	if err != nil || rel == "" {
		return "", "", nil, false
	}
	origin = normalizePrefix(origin)
	if h, ok := x.mounts[origin]; ok {
		if h.HasItem(rel) {
			return origin, rel, h, true
		}
		return "", "", nil, false
	}
	prefix, originSub, h, ok := x.owner(origin)
	if !ok {
		return "", "", nil, false
	}
	if dir := path.Dir(originSub); dir != "." {
		if next := path.Join(dir, rel); h.HasItem(next) {
			return prefix, next, h, true
		}
	}
	if h.HasItem(rel) {
		return prefix, rel, h, true
	}
	return "", "", nil, false
}
