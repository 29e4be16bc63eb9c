package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestFileFetcher_Root(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tex/a.png", "A")
	f := FileFetcher{Root: dir}

	got, err := f.Fetch(t.Context(), "tex/a.png", Hints{})
	if err != nil || string(got) != "A" {
		t.Fatalf("Fetch = %q, %v", got, err)
	}
	if _, err := f.Fetch(t.Context(), "tex/missing.png", Hints{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
	if _, err := f.Fetch(t.Context(), "../outside.png", Hints{}); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestFileFetcher_AbsoluteAndURL(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "b.png", "B")
	f := FileFetcher{}

	for _, id := range []string{p, "file://" + filepath.ToSlash(p)} {
		got, err := f.Fetch(t.Context(), id, Hints{})
		if err != nil || string(got) != "B" {
			t.Fatalf("Fetch(%q) = %q, %v", id, got, err)
		}
	}
}

func TestFileFetcher_MaxBytes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.bin", "0123456789")
	f := FileFetcher{Root: dir, MaxBytes: 4}
	if _, err := f.Fetch(t.Context(), "big.bin", Hints{}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestFileFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := (FileFetcher{}).Fetch(ctx, "whatever", Hints{}); err == nil {
		t.Fatal("expected context error")
	}
}
