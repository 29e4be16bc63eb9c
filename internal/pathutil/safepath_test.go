package pathutil

import (
	"strings"
	"testing"
)

// TestHasDotSegments tests the helper directly for clarity
func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/normal/path", false},
		{"/path/./here", true},
		{"/path/../up", true},
		{".", true},
		{"..", true},
		{"/...", false},     // three dots is not a dot segment
		{"/.hidden", false}, // dotfile, not a dot segment
		{"/.dotdir/file", false},
		{"/path/to/.", true},
		{"/./", true},
		{"/../", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := HasDotSegments(tt.path)
			if got != tt.want {
				t.Errorf("hasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
func FuzzHasDotSegments(f *testing.F) {
	f.Add("foo/./bar")
	f.Add("foo/../bar")
	f.Add("./foo")
	f.Add("foo/.")
	f.Add(".")
	f.Add("..")
	f.Add("foo/bar")
	f.Add("...") // triple dot is a valid name

	f.Fuzz(func(t *testing.T, p string) {
		result := HasDotSegments(p)
		// INVARIANT: if result is false, no segment equals "." or ".."
		segments := strings.Split(p, "/")
		hasDangerousSegment := false
		for _, seg := range segments {
			if seg == "." || seg == ".." {
				hasDangerousSegment = true
				break
			}
		}
		if result != hasDangerousSegment {
			t.Errorf("hasDotSegments(%q) = %v, but manual check = %v", p, result, hasDangerousSegment)
		}
	})
}

func TestCleanRelative(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"a.png", "a.png", false},
		{"dir/./b.png", "dir/b.png", false},
		{"dir//c.png", "dir/c.png", false},
		{"win\\d.png", "win/d.png", false},
		{".", "", false},
		{"./", "", false},
		{"/etc/passwd", "", true},
		{"../up.png", "", true},
		{"a/../../b", "", true},
	}
	for _, tt := range tests {
		got, err := CleanRelative(tt.name)
		if (err != nil) != tt.wantErr {
			t.Fatalf("CleanRelative(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("CleanRelative(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		id, prefix string
		want       string
		ok         bool
	}{
		{"tex/a.png", "tex", "a.png", true},
		{"tex/a.png", "tex/", "a.png", true},
		{"tex/sub/a.png", "tex", "sub/a.png", true},
		{"texture/a.png", "tex", "", false},
		{"tex/", "tex", "", false},
		{"tex", "tex", "", false},
		{"a.png", "", "", false},
	}
	for _, tt := range tests {
		got, ok := SplitPrefix(tt.id, tt.prefix)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("SplitPrefix(%q, %q) = %q, %v; want %q, %v", tt.id, tt.prefix, got, ok, tt.want, tt.ok)
		}
	}
}
