// Package packages resolves package: URIs against a package map file.
//
// The map file lists one package per line as "name:rootURI", where the
// root URI points at the directory holding the package's sources, e.g.
//
//	observability:file:///home/dev/observability/lib/
//
// Lines starting with # are comments.
package packages

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"rekindle/internal/fsutil"
)

var (
	ErrNotPackageURI    = errors.New("not a package URI")
	ErrPackageNotFound  = errors.New("package not found")
	ErrNoPackageMap     = errors.New("no package map configured")
	errMalformedPackage = errors.New("malformed package map line")
)

// Map holds package name to root directory associations in file order.
type Map struct {
	roots map[string]string
	order []string
}

func Load(path string) (*Map, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open package map: %w", err)
	}
	defer file.Close()

	m := &Map{roots: make(map[string]string)}
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, rootURI, ok := strings.Cut(text, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %s:%d", errMalformedPackage, path, line)
		}
		root, err := fsutil.PathFromURI(rootURI)
		if err != nil {
			return nil, fmt.Errorf("package %q root: %w", name, err)
		}
		if _, seen := m.roots[name]; !seen {
			m.order = append(m.order, name)
		}
		m.roots[name] = root
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read package map: %w", err)
	}
	return m, nil
}

// Resolve maps a package:name/relative/path URI to a filesystem path.
func (m *Map) Resolve(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotPackageURI, raw)
	}
	if parsed.Scheme != "package" {
		return "", fmt.Errorf("%w: %q", ErrNotPackageURI, raw)
	}
	spec := parsed.Opaque
	if spec == "" {
		spec = strings.TrimPrefix(parsed.Path, "/")
	}
	name, rel, _ := strings.Cut(spec, "/")
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrNotPackageURI, raw)
	}
	if m == nil {
		return "", ErrNoPackageMap
	}
	root, ok := m.roots[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrPackageNotFound, name)
	}
	if rel == "" {
		return root, nil
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// Roots returns every package root directory in file order.
func (m *Map) Roots() []string {
	if m == nil {
		return nil
	}
	roots := make([]string, 0, len(m.order))
	for _, name := range m.order {
		roots = append(roots, m.roots[name])
	}
	return roots
}

// Len reports the number of mapped packages.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.roots)
}
