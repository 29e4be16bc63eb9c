package aggregate

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/jobs"
	"github.com/keithlinneman/linnemanlabs-assets/internal/loader"
	"github.com/keithlinneman/linnemanlabs-assets/internal/transport"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

type mapFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *mapFetcher) Fetch(_ context.Context, id string, _ transport.Hints) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[id]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return data, nil
}

// fakeLoader hands out node graphs named after the requested id.
type fakeLoader struct {
	main     *jobs.Main
	requests []string
	hints    []loader.Hints
	fail     map[string]bool
}

func (f *fakeLoader) Load(_ context.Context, id string, h loader.Hints, cb loader.Callback) {
	f.requests = append(f.requests, id)
	f.hints = append(f.hints, h)
	f.main.Post(func() {
		if f.fail[id] {
			cb(nil)
			return
		}
		cb(content.NewShared(content.NewNodeGraph(id)))
	})
}

type fakeSource struct {
	descs     map[string]Description
	describes atomic.Int64
	active    atomic.Int64
	overlap   atomic.Bool
}

func (s *fakeSource) Describe(_ context.Context, id string) (Description, error) {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	s.describes.Add(1)
	d, ok := s.descs[id]
	if !ok {
		return Description{}, transport.ErrNotFound
	}
	d.ID = id
	if d.URL == "" {
		d.URL = id
	}
	return d, nil
}

func (s *fakeSource) Manifest(_ context.Context, d Description) ([]Descriptor, error) {
	return d.Entries, nil
}

type fakeAggMetrics struct{ results []string }

func (m *fakeAggMetrics) IncAggregateLoad(r string) { m.results = append(m.results, r) }

func settle(r *jobs.Runner) {
	for {
		r.Wait()
		if r.Main().Drain() == 0 && r.Running() == 0 {
			return
		}
	}
}

func newFakeTree(t *testing.T, descs map[string]Description) (*Asset, *fakeLoader, *fakeSource, *jobs.Runner) {
	t.Helper()
	runner := jobs.NewRunner(jobs.NewMain(), jobs.RunnerOptions{Workers: 2})
	fl := &fakeLoader{main: runner.Main(), fail: map[string]bool{}}
	src := &fakeSource{descs: descs}
	root, err := New("root.json", Options{Runner: runner, Loader: fl, Source: src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return root, fl, src, runner
}

func TestSelectMain(t *testing.T) {
	png256 := Descriptor{ID: "big.png", Format: "png", Width: 256, Height: 256}
	png128 := Descriptor{ID: "small.png", Format: "png", Width: 128, Height: 128}
	wide := Descriptor{ID: "wide.png", Format: "png", Width: 512, Height: 64}
	accepted := []string{"png", "jpg"}

	tests := []struct {
		name     string
		root     string
		manifest []Descriptor
		want     string
		wantOK   bool
	}{
		{"largest accepted texture", "hero.json", []Descriptor{png128, png256}, "big.png", true},
		{"both dimensions must grow", "hero.json", []Descriptor{png128, wide}, "small.png", true},
		{"gltf preferred over earlier fbx", "hero.json", []Descriptor{{ID: "hero.fbx", Format: "fbx"}, {ID: "hero.gltf", Format: "gltf"}}, "hero.gltf", true},
		{"glb by extension", "hero.json", []Descriptor{{ID: "hero.fbx"}, {ID: "hero.glb"}}, "hero.glb", true},
		{"fbx when alone", "hero.json", []Descriptor{png256, {ID: "hero.fbx", Format: "FBX"}}, "hero.fbx", true},
		{"models beat image root", "hero.png", []Descriptor{{ID: "hero.gltf"}}, "hero.gltf", true},
		{"image root beats textures", "https://cdn/hero.png?v=2", []Descriptor{png256}, "https://cdn/hero.png?v=2", true},
		{"format outside allow-list", "hero.json", []Descriptor{{ID: "a.tga", Format: "tga", Width: 9, Height: 9}}, "", false},
		{"empty manifest falls back to root", "hero.json", nil, "hero.json", true},
		{"nothing at all", "", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectMain(tt.root, tt.manifest, accepted)
			if ok != tt.wantOK || got.ID != tt.want {
				t.Fatalf("SelectMain = %q, %v; want %q, %v", got.ID, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAsset_SelectsLargestTextureAndLoadsEveryEntry(t *testing.T) {
	runner := jobs.NewRunner(jobs.NewMain(), jobs.RunnerOptions{Workers: 2})
	fetcher := &mapFetcher{files: map[string][]byte{
		"hero.json": []byte(`{
			// rendered from the hero rig
			"manifest": "hero.manifest.json",
			"properties": {"shader": "pbr"},
		}`),
		"hero.manifest.json": []byte(`{"entries": [
			{"id": "big.png", "format": "png", "width": 256, "height": 256},
			{"id": "small.png", "format": "png", "width": 128, "height": 128},
		]}`),
		"big.png":   pngBytes(t, 256, 256),
		"small.png": pngBytes(t, 128, 128),
	}}
	svc, err := loader.New(loader.Options{Runner: runner, Fetcher: fetcher})
	if err != nil {
		t.Fatalf("loader.New: %v", err)
	}
	m := &fakeAggMetrics{}
	root, err := New("hero.json", Options{
		Runner:   runner,
		Loader:   svc,
		Source:   TransportSource{Fetcher: fetcher},
		Accepted: []string{"PNG"},
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loaded := 0
	root.OnLoaded(func(*Asset) { loaded++ })
	root.Load(t.Context())
	settle(runner)

	if loaded != 1 || root.Err() != nil {
		t.Fatalf("loaded = %d, err = %v", loaded, root.Err())
	}
	if root.Main().ID != "big.png" || root.Content() == nil || root.Content().ID() != "big.png" {
		t.Fatalf("main = %+v", root.Main())
	}
	if img := root.Content().Value().(*content.Image); img.Width != 256 {
		t.Fatalf("main width = %d", img.Width)
	}
	if len(root.Children()) != 2 {
		t.Fatalf("children = %d", len(root.Children()))
	}
	for _, c := range root.Children() {
		if c.Content() == nil {
			t.Fatalf("child %s not loaded", c.ID())
		}
		if c.Parent() != root {
			t.Fatalf("child %s parent = %v", c.ID(), c.Parent())
		}
	}
	// the main entry and its child share one cached handle
	big := root.Children()[0].Content()
	if big != root.Content() || big.Refs() != 3 {
		t.Fatalf("shared main handle: same=%v refs=%d", big == root.Content(), big.Refs())
	}
	if v, ok := root.Children()[1].Lookup("shader"); !ok || v != "pbr" {
		t.Fatalf("Lookup(shader) = %v, %v", v, ok)
	}
	if len(m.results) != 1 || m.results[0] != "ok" {
		t.Fatalf("metrics = %v", m.results)
	}

	root.Release()
	if root.Content() != nil || root.Children()[1].Content() != nil {
		t.Fatal("Release should drop content")
	}
	if big.Refs() != 1 {
		t.Fatalf("Refs after release = %d, want 1 (cache)", big.Refs())
	}
}

func TestAsset_PrefersGLTFOverEarlierFBX(t *testing.T) {
	root, fl, _, runner := newFakeTree(t, map[string]Description{
		"root.json": {Entries: []Descriptor{
			{ID: "hero.fbx", Format: "fbx"},
			{ID: "hero.gltf", Format: "gltf"},
		}},
	})
	root.Load(t.Context())
	settle(runner)

	if root.Content() == nil || root.Content().ID() != "hero.gltf" {
		t.Fatalf("main content = %v", root.Content())
	}
	// main plus one load per child
	if len(fl.requests) != 3 {
		t.Fatalf("requests = %v", fl.requests)
	}
	if len(root.Children()) != 2 || root.Children()[0].Content().ID() != "hero.fbx" {
		t.Fatal("fbx entry should still load as a child")
	}
	for _, h := range fl.hints {
		if h.Origin != "root.json" {
			t.Fatalf("hints origin = %q, want root.json", h.Origin)
		}
	}
}

func TestAsset_LoadDuringLoadReruns(t *testing.T) {
	root, _, src, runner := newFakeTree(t, map[string]Description{
		"root.json": {Entries: []Descriptor{{ID: "a.png", Format: "png", Width: 1, Height: 1}}},
	})
	completions := 0
	root.OnLoaded(func(*Asset) { completions++ })

	ctx := t.Context()
	root.Load(ctx)
	root.Load(ctx)
	root.Load(ctx)
	settle(runner)

	if n := src.describes.Load(); n != 2 {
		t.Fatalf("describes = %d, want 2 (one load plus one coalesced rerun)", n)
	}
	if src.overlap.Load() {
		t.Fatal("loads ran concurrently")
	}
	if completions != 1 {
		t.Fatalf("OnLoaded fired %d times, want 1", completions)
	}
	if root.Loading() {
		t.Fatal("still loading after settle")
	}
}

func TestAsset_NestedAggregatesAndFiltering(t *testing.T) {
	root, _, _, runner := newFakeTree(t, map[string]Description{
		"root.json": {
			Properties: map[string]any{"tint": "red", "lod": 0.0},
			Entries: []Descriptor{
				{ID: "armor", Manifest: "armor.json"},
				{ID: "base.png", Format: "png", Width: 4, Height: 4},
			},
		},
		"armor.json": {
			Properties: map[string]any{"lod": 2.0},
			Entries:    []Descriptor{{ID: "armor.png", Format: "png", Width: 2, Height: 2}},
		},
	})
	root.SetFiltering(FilterLinear)
	root.Load(t.Context())
	settle(runner)

	armor := root.Children()[0]
	if len(armor.Children()) != 1 {
		t.Fatalf("nested children = %d", len(armor.Children()))
	}
	leaf := armor.Children()[0]
	if leaf.Content() == nil || leaf.Content().ID() != "armor.png" {
		t.Fatal("nested leaf not loaded")
	}
	if leaf.Filtering() != FilterLinear {
		t.Fatalf("inherited filtering = %q", leaf.Filtering())
	}
	if v, _ := leaf.Lookup("lod"); v != 2.0 {
		t.Fatalf("nearest ancestor should win, lod = %v", v)
	}
	if v, _ := leaf.Lookup("tint"); v != "red" {
		t.Fatalf("tint = %v", v)
	}
	if _, ok := leaf.Lookup("missing"); ok {
		t.Fatal("missing key found")
	}

	root.SetFiltering(FilterNearest)
	if leaf.Filtering() != FilterNearest || armor.Filtering() != FilterNearest {
		t.Fatal("SetFiltering should propagate to every descendant")
	}
}

func TestAsset_DescriptionFailure(t *testing.T) {
	root, fl, _, runner := newFakeTree(t, nil)
	m := &fakeAggMetrics{}
	root.env.metrics = m
	fired := false
	root.OnLoaded(func(a *Asset) { fired = a.Err() != nil })
	root.Load(t.Context())
	settle(runner)

	if !fired || root.Content() != nil || len(fl.requests) != 0 {
		t.Fatalf("fired=%v content=%v requests=%v", fired, root.Content(), fl.requests)
	}
	if len(m.results) != 1 || m.results[0] != "error" {
		t.Fatalf("metrics = %v", m.results)
	}
}

func TestAsset_ReleaseWhileLoading(t *testing.T) {
	root, _, _, runner := newFakeTree(t, map[string]Description{
		"root.json": {Entries: []Descriptor{{ID: "a.png", Format: "png", Width: 1, Height: 1}}},
	})
	root.Load(t.Context())
	runner.Main().Post(func() {
		if !root.Loading() {
			t.Error("expected the load to be in progress")
		}
		root.Release()
	})
	settle(runner)

	if root.Content() != nil || root.Children()[0].Content() != nil {
		t.Fatal("release requested mid-load should apply once the load finishes")
	}
}

func TestTransportSource(t *testing.T) {
	fetcher := &mapFetcher{files: map[string][]byte{
		"inline.json":     []byte(`{"url": "inline.png", "entries": [{"id": "a.png"}]}`),
		"split.json":      []byte(`{"manifest": "split.list.json"}`),
		"split.list.json": []byte(`[{"id": "b.png", "width": 2, "height": 2},]`),
		"broken.json":     []byte(`{"manifest": `),
	}}
	src := TransportSource{Fetcher: fetcher}
	ctx := t.Context()

	d, err := src.Describe(ctx, "inline.json")
	if err != nil || d.URL != "inline.png" || d.ID != "inline.json" {
		t.Fatalf("Describe = %+v, %v", d, err)
	}
	m, err := src.Manifest(ctx, d)
	if err != nil || len(m) != 1 || m[0].ID != "a.png" {
		t.Fatalf("inline Manifest = %+v, %v", m, err)
	}

	d, err = src.Describe(ctx, "split.json")
	if err != nil || d.URL != "split.json" {
		t.Fatalf("Describe = %+v, %v", d, err)
	}
	m, err = src.Manifest(ctx, d)
	if err != nil || len(m) != 1 || m[0].Width != 2 {
		t.Fatalf("array Manifest = %+v, %v", m, err)
	}

	if _, err := src.Describe(ctx, "broken.json"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := src.Describe(ctx, "absent.json"); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New("x", Options{}); err == nil {
		t.Fatal("expected error")
	}
}
