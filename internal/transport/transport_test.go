package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeFetcher struct {
	name  string
	calls []string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, id string, _ Hints) ([]byte, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.name), nil
}

type fakeMetrics struct {
	mu      sync.Mutex
	results map[string]int
}

func (m *fakeMetrics) ObserveFetch(transport, result string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = make(map[string]int)
	}
	m.results[transport+"/"+result]++
}

func TestScheme(t *testing.T) {
	tests := map[string]string{
		"s3://bucket/key":       "s3",
		"https://cdn/a.png":     "http",
		"http://cdn/a.png":      "http",
		"file:///srv/a.png":     "file",
		"textures/a.png":        "file",
		"/abs/a.png":            "file",
		"httpish/not-a-url.png": "file",
	}
	for id, want := range tests {
		if got := Scheme(id); got != want {
			t.Fatalf("Scheme(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestRouter_Dispatch(t *testing.T) {
	file := &fakeFetcher{name: "file"}
	web := &fakeFetcher{name: "http"}
	s3f := &fakeFetcher{name: "s3"}
	m := &fakeMetrics{}
	r := NewRouter(RouterOptions{File: file, HTTP: web, S3: s3f, Metrics: m})

	for id, want := range map[string]string{
		"a.png":           "file",
		"https://x/a.png": "http",
		"s3://b/a.png":    "s3",
	} {
		got, err := r.Fetch(t.Context(), id, Hints{})
		if err != nil {
			t.Fatalf("Fetch(%q): %v", id, err)
		}
		if string(got) != want {
			t.Fatalf("Fetch(%q) routed to %q, want %q", id, got, want)
		}
	}
	if m.results["file/ok"] != 1 || m.results["http/ok"] != 1 || m.results["s3/ok"] != 1 {
		t.Fatalf("metrics = %v", m.results)
	}
}

func TestRouter_Errors(t *testing.T) {
	m := &fakeMetrics{}
	r := NewRouter(RouterOptions{
		File:    &fakeFetcher{err: ErrNotFound},
		Metrics: m,
	})

	if _, err := r.Fetch(t.Context(), "missing.png", Hints{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := r.Fetch(t.Context(), "s3://b/k", Hints{}); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("err = %v, want ErrUnsupportedScheme", err)
	}
	if m.results["file/not_found"] != 1 || m.results["s3/error"] != 1 {
		t.Fatalf("metrics = %v", m.results)
	}
}

func TestFetcherFunc(t *testing.T) {
	var f Fetcher = FetcherFunc(func(_ context.Context, id string, h Hints) ([]byte, error) {
		return []byte(id + h.Auth), nil
	})
	got, _ := f.Fetch(t.Context(), "a", Hints{Auth: "b"})
	if string(got) != "ab" {
		t.Fatalf("got %q", got)
	}
}
