// Package safety keeps relative paths taken from changes files, manifests
// and staged packages inside the directory they are meant for.
package safety

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is wrapped by every rejection in this package.
var ErrUnsafePath = errors.New("unsafe path")

// CleanRelativePath validates a relative path written with either '/' or
// '\' separators and returns it in platform form.
func CleanRelativePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: path is empty", ErrUnsafePath)
	}

	slashed := strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(slashed, "/") || filepath.VolumeName(p) != "" {
		return "", fmt.Errorf("%w: absolute paths are not allowed: %q", ErrUnsafePath, p)
	}

	clean := filepath.Clean(filepath.FromSlash(slashed))
	switch {
	case clean == ".":
		return "", fmt.Errorf("%w: path resolves to current directory", ErrUnsafePath)
	case filepath.IsAbs(clean):
		return "", fmt.Errorf("%w: absolute paths are not allowed: %q", ErrUnsafePath, p)
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return "", fmt.Errorf("%w: parent traversal is not allowed: %q", ErrUnsafePath, p)
	}
	return clean, nil
}

// SafeJoinUnder joins rel under root and verifies the result stays inside root.
func SafeJoinUnder(root, rel string) (string, error) {
	cleanRel, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, cleanRel))
}

// EnsureUnderRoot returns the absolute form of candidate if it lies inside root.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes root: %q", ErrUnsafePath, candidate)
	}
	return candAbs, nil
}

// InTopDir reports whether the slash-separated relative path rel is dir
// itself or lies beneath it.
func InTopDir(rel, dir string) bool {
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, `\`, "/"), "./")
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}
