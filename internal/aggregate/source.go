package aggregate

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"github.com/keithlinneman/linnemanlabs-assets/internal/transport"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// Description is the record fetched for a root identifier.
type Description struct {
	ID string `json:"-"`
	// URL is the root's own payload. Defaults to ID.
	URL string `json:"url"`
	// Manifest names a separate manifest document. When empty, Entries is
	// the manifest.
	Manifest   string         `json:"manifest"`
	Entries    []Descriptor   `json:"entries"`
	Properties map[string]any `json:"properties"`
}

// Descriptor is one manifest entry.
type Descriptor struct {
	ID     string `json:"id"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// Manifest marks an entry that is itself an aggregate described by
	// the named identifier.
	Manifest   string         `json:"manifest,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// format returns the declared format, or the identifier's extension.
func (d Descriptor) format() string {
	if d.Format != "" {
		return strings.ToLower(d.Format)
	}
	return extension(d.ID)
}

func extension(id string) string {
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		id = id[:i]
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(id), "."))
}

type Source interface {
	Describe(ctx context.Context, id string) (Description, error)
	Manifest(ctx context.Context, desc Description) ([]Descriptor, error)
}

// TransportSource reads descriptions and manifests as JSON documents,
// comments and trailing commas allowed, through a fetcher.
type TransportSource struct {
	Fetcher transport.Fetcher
	Hints   transport.Hints
}

func (s TransportSource) Describe(ctx context.Context, id string) (Description, error) {
	raw, err := s.Fetcher.Fetch(ctx, id, s.Hints)
	if err != nil {
		return Description{}, xerrors.Wrapf(err, "fetch description %s", id)
	}
	var d Description
	if err := json.Unmarshal(jsonc.ToJSON(raw), &d); err != nil {
		return Description{}, xerrors.Wrapf(err, "parse description %s", id)
	}
	d.ID = id
	if d.URL == "" {
		d.URL = id
	}
	return d, nil
}

// Manifest accepts either a bare array of entries or an object with an
// "entries" array.
func (s TransportSource) Manifest(ctx context.Context, d Description) ([]Descriptor, error) {
	if d.Manifest == "" {
		return d.Entries, nil
	}
	raw, err := s.Fetcher.Fetch(ctx, d.Manifest, s.Hints)
	if err != nil {
		return nil, xerrors.Wrapf(err, "fetch manifest %s", d.Manifest)
	}
	doc := jsonc.ToJSON(raw)
	if entries := gjson.GetBytes(doc, "entries"); entries.IsArray() {
		doc = []byte(entries.Raw)
	}
	var out []Descriptor
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, xerrors.Wrapf(err, "parse manifest %s", d.Manifest)
	}
	return out, nil
}
