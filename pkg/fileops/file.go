// Package fileops performs boundary-validated file mutations and
// hunk-based patch application for the orchestration loop's file-editing
// tools.
package fileops

import (
	"os"
	"path/filepath"

	"github.com/codeready-toolchain/swarmgate/pkg/workspace"
)

// Ops performs file mutations constrained to a workspace boundary.
type Ops struct {
	validator *workspace.BoundaryValidator
}

// New builds an Ops backed by validator.
func New(validator *workspace.BoundaryValidator) *Ops {
	return &Ops{validator: validator}
}

// CreateFile writes content to a new file at path, which must not already
// exist, creating any missing parent directories. Returns the resolved
// on-disk path.
func (o *Ops) CreateFile(path, content string) (string, error) {
	resolved, err := o.validator.Validate(path, false)
	if err != nil {
		return "", err
	}

	if _, statErr := os.Lstat(resolved); statErr == nil {
		return "", &OpError{Op: "create_file", Path: path, Err: ErrAlreadyExists}
	} else if !os.IsNotExist(statErr) {
		return "", &OpError{Op: "create_file", Path: path, Err: statErr}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", &OpError{Op: "create_file", Path: path, Err: err}
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", &OpError{Op: "create_file", Path: path, Err: err}
	}
	return resolved, nil
}

// DeleteFile removes the file at path, which must exist and must not be a
// directory. Returns the resolved on-disk path that was removed.
func (o *Ops) DeleteFile(path string) (string, error) {
	resolved, err := o.validator.Validate(path, false)
	if err != nil {
		return "", err
	}

	info, statErr := os.Lstat(resolved)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", &OpError{Op: "delete_file", Path: path, Err: ErrNotFound}
		}
		return "", &OpError{Op: "delete_file", Path: path, Err: statErr}
	}
	if info.IsDir() {
		return "", &OpError{Op: "delete_file", Path: path, Err: ErrNotADirectory}
	}

	if err := os.Remove(resolved); err != nil {
		return "", &OpError{Op: "delete_file", Path: path, Err: err}
	}
	return resolved, nil
}

// Rename moves from to to. from must exist; to must not already exist. Any
// missing parent directories of to are created.
func (o *Ops) Rename(from, to string) (resolvedFrom, resolvedTo string, err error) {
	resolvedFrom, err = o.validator.Validate(from, false)
	if err != nil {
		return "", "", err
	}
	resolvedTo, err = o.validator.Validate(to, false)
	if err != nil {
		return "", "", err
	}

	if _, statErr := os.Lstat(resolvedFrom); statErr != nil {
		if os.IsNotExist(statErr) {
			return "", "", &OpError{Op: "rename", Path: from, Err: ErrNotFound}
		}
		return "", "", &OpError{Op: "rename", Path: from, Err: statErr}
	}
	if _, statErr := os.Lstat(resolvedTo); statErr == nil {
		return "", "", &OpError{Op: "rename", Path: to, Err: ErrAlreadyExists}
	} else if !os.IsNotExist(statErr) {
		return "", "", &OpError{Op: "rename", Path: to, Err: statErr}
	}

	if err := os.MkdirAll(filepath.Dir(resolvedTo), 0o755); err != nil {
		return "", "", &OpError{Op: "rename", Path: to, Err: err}
	}
	if err := os.Rename(resolvedFrom, resolvedTo); err != nil {
		return "", "", &OpError{Op: "rename", Path: from, Err: err}
	}
	return resolvedFrom, resolvedTo, nil
}

// CreateDir creates path and any missing parents. If path already exists
// and is a directory, it is returned as-is; if it exists as a file,
// ErrAlreadyExists is returned.
func (o *Ops) CreateDir(path string) (string, error) {
	resolved, err := o.validator.Validate(path, false)
	if err != nil {
		return "", err
	}

	info, statErr := os.Lstat(resolved)
	if statErr == nil {
		if info.IsDir() {
			return resolved, nil
		}
		return "", &OpError{Op: "create_dir", Path: path, Err: ErrAlreadyExists}
	}
	if !os.IsNotExist(statErr) {
		return "", &OpError{Op: "create_dir", Path: path, Err: statErr}
	}

	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return "", &OpError{Op: "create_dir", Path: path, Err: err}
	}
	return resolved, nil
}
