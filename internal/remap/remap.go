// Package remap resolves identifier aliases to their canonical form.
//
// The alias map is swapped copy-on-write behind an atomic pointer, so Resolve
// never takes a lock and can run on worker goroutines while the watcher
// installs a new table.
package remap

import (
	"context"
	"io"
	"maps"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-assets/internal/assert"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// maxHops bounds alias chains. Cycles are not detected up front; a chain
// that reaches the bound is reported as a violation.
const maxHops = 64

type Table struct {
	mu      sync.Mutex // serializes writers
	aliases atomic.Pointer[map[string]string]
}

func New(aliases map[string]string) *Table {
	t := &Table{}
	t.Replace(aliases)
	return t
}

// Resolve follows aliases from id until it reaches an identifier with no
// alias. An unmapped id resolves to itself.
func (t *Table) Resolve(id string) string {
	m := *t.aliases.Load()
	for hops := 0; hops < maxHops; hops++ {
		next, ok := m[id]
		if !ok || next == id {
			return id
		}
		id = next
	}
	assert.Violation(context.Background(), "alias chain exceeds hop limit", "id", id, "max_hops", maxHops)
	return id
}

// Set adds or replaces a single alias.
func (t *Table) Set(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := maps.Clone(*t.aliases.Load())
	next[from] = to
	t.aliases.Store(&next)
}

// Delete removes the alias for from, if any.
func (t *Table) Delete(from string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := maps.Clone(*t.aliases.Load())
	delete(next, from)
	t.aliases.Store(&next)
}

// Replace installs a copy of aliases as the whole table.
func (t *Table) Replace(aliases map[string]string) {
	next := make(map[string]string, len(aliases))
	maps.Copy(next, aliases)
	t.mu.Lock()
	t.aliases.Store(&next)
	t.mu.Unlock()
}

func (t *Table) Len() int { return len(*t.aliases.Load()) }

// Snapshot returns a copy of the current alias map.
func (t *Table) Snapshot() map[string]string { return maps.Clone(*t.aliases.Load()) }

type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// LoadYAML parses an alias document of the form:
//
//	aliases:
//	  textures/old.png: textures/new.png
func LoadYAML(r io.Reader) (map[string]string, error) {
	var f aliasFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return map[string]string{}, nil
		}
		return nil, xerrors.Wrap(err, "decode alias yaml")
	}
	for from, to := range f.Aliases {
		if from == "" || to == "" {
			return nil, xerrors.Newf("alias %q -> %q: empty identifier", from, to)
		}
	}
	if f.Aliases == nil {
		f.Aliases = map[string]string{}
	}
	return f.Aliases, nil
}
