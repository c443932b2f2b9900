// Package paths provides sandboxed path resolution for the documents
// storage root. Every filesystem-touching component resolves paths
// through a Resolver so that traversal outside the root is impossible.
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidPath reports a malformed path or an attempted escape from
// the sandbox root.
var ErrInvalidPath = errors.New("invalid path")

// NormalizeName cleans a single path segment (a folder or file name).
// Empty names, ".", "..", and absolute paths are rejected.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || cleaned == "." || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return cleaned, nil
}

// IsWithin reports whether inner is strictly inside outer. Equal paths
// are not within each other, and any relative escape via ".." fails.
func IsWithin(outer, inner string) bool {
	outer = filepath.Clean(outer)
	inner = filepath.Clean(inner)
	if outer == inner {
		return false
	}
	rel, err := filepath.Rel(outer, inner)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return rel != "."
}

// Resolver maps folder/file names to absolute paths under a fixed root.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver sandboxed to root. root must be absolute.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &Resolver{root: abs}, nil
}

// Root returns the sandbox root.
func (r *Resolver) Root() string { return r.root }

// Resolve joins the given segments onto the root and verifies that the
// result stays inside it.
func (r *Resolver) Resolve(segments ...string) (string, error) {
	for _, s := range segments {
		if _, err := NormalizeName(s); err != nil {
			return "", err
		}
	}
	joined := filepath.Join(append([]string{r.root}, segments...)...)
	if !IsWithin(r.root, joined) {
		return "", fmt.Errorf("%w: %q escapes %q", ErrInvalidPath, filepath.Join(segments...), r.root)
	}
	return joined, nil
}
