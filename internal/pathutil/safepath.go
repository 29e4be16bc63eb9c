// Package pathutil validates slash-separated paths taken from untrusted
// archive entries and identifiers.
package pathutil

import (
	"path"
	"strings"

	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CleanRelative normalizes an archive entry name and rejects names that are
// absolute or would climb out of the archive root. Backslashes are treated
// as separators. An empty result means the entry names the root itself.
func CleanRelative(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(name) {
		return "", xerrors.Newf("absolute path: %s", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", xerrors.Newf("path traversal: %s", name)
		}
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// SplitPrefix reports whether id lives under prefix and returns the
// remainder. "tex/a.png" under prefix "tex" yields "a.png".
func SplitPrefix(id, prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	prefix = strings.TrimSuffix(prefix, "/")
	rest, ok := strings.CutPrefix(id, prefix+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
