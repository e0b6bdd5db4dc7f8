package fsutil

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
)

// Resolve canonicalizes a path: absolute, cleaned, symlinks followed.
// The path must exist.
func Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	return resolved, nil
}

// ExpandGlob returns every path matching the pattern. A pattern that
// matches nothing yields an empty slice, not an error.
func ExpandGlob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expand glob %q: %w", pattern, err)
	}
	return matches, nil
}

// PathFromURI converts a file: URI, or a plain path, to a filesystem
// path. Any other scheme is rejected.
func PathFromURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URI")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse URI %q: %w", raw, err)
	}
	switch parsed.Scheme {
	case "":
		return filepath.Clean(raw), nil
	case "file":
		path := parsed.Path
		if runtime.GOOS == "windows" {
			path = strings.TrimPrefix(path, "/")
		}
		if path == "" {
			return "", fmt.Errorf("file URI %q has no path", raw)
		}
		return filepath.Clean(filepath.FromSlash(path)), nil
	default:
		return "", fmt.Errorf("unsupported URI scheme %q", parsed.Scheme)
	}
}
