package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BoundaryErrorKind classifies why a path failed validation.
type BoundaryErrorKind int

const (
	// OutsideWorkspace means the canonicalized path is not a descendant of root.
	OutsideWorkspace BoundaryErrorKind = iota
	// PathNotFound means must_exist was requested and nothing exists at the path.
	PathNotFound
)

// BoundaryError reports a boundary validation failure.
type BoundaryError struct {
	Kind BoundaryErrorKind
	Path string
}

func (e *BoundaryError) Error() string {
	switch e.Kind {
	case PathNotFound:
		return fmt.Sprintf("path not found: %s", e.Path)
	default:
		return fmt.Sprintf("path outside workspace: %s", e.Path)
	}
}

// BoundaryValidator canonicalizes requested paths and confirms they lie
// under the workspace root. Every mutating file operation and every patch
// application routes through this.
type BoundaryValidator struct {
	root string
}

// NewBoundaryValidator creates a validator anchored at the workspace's
// canonical root.
func NewBoundaryValidator(ws *Workspace) (*BoundaryValidator, error) {
	canonicalRoot, err := canonicalize(ws.Root())
	if err != nil {
		return nil, fmt.Errorf("canonicalize workspace root: %w", err)
	}
	return &BoundaryValidator{root: canonicalRoot}, nil
}

// Root returns the validator's canonicalized root.
func (v *BoundaryValidator) Root() string { return v.root }

// Validate resolves path relative to root if not absolute, canonicalizes it
// (resolving symlinks), and confirms it is a descendant of root. When
// mustExist is true, a PathNotFound error is returned if nothing exists at
// the resolved location.
func (v *BoundaryValidator) Validate(path string, mustExist bool) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(v.root, resolved)
	}

	canonical, err := canonicalize(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Canonicalize the deepest existing ancestor and re-append the
			// missing suffix so non-existent destinations (e.g. a file about
			// to be created) can still be boundary-checked.
			canonical, err = canonicalizeNonExistent(resolved)
			if err != nil {
				return "", err
			}
		} else {
			return "", err
		}
	}

	if !isDescendant(v.root, canonical) {
		return "", &BoundaryError{Kind: OutsideWorkspace, Path: path}
	}

	if mustExist {
		if _, err := os.Lstat(canonical); err != nil {
			if os.IsNotExist(err) {
				return "", &BoundaryError{Kind: PathNotFound, Path: path}
			}
			return "", err
		}
	}

	return canonical, nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// canonicalizeNonExistent canonicalizes the deepest existing ancestor of path
// and rejoins the remaining (not-yet-existing) path segments.
func canonicalizeNonExistent(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	var tail []string
	cur := abs
	for {
		if _, err := os.Lstat(cur); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
	resolvedBase, err := filepath.EvalSymlinks(cur)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolvedBase}, tail...)...), nil
}

func isDescendant(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
