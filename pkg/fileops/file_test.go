package fileops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/swarmgate/pkg/workspace"
)

func newTestOps(t *testing.T) (*Ops, string) {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.Create(root)
	require.NoError(t, err)
	v, err := workspace.NewBoundaryValidator(ws)
	require.NoError(t, err)
	return New(v), root
}

func TestCreateFile_WritesContent(t *testing.T) {
	ops, root := newTestOps(t)

	path, err := ops.CreateFile(filepath.Join(root, "test.txt"), "hello world")
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(raw))
}

func TestCreateFile_AlreadyExistsErrors(t *testing.T) {
	ops, root := newTestOps(t)
	target := filepath.Join(root, "test.txt")
	_, err := ops.CreateFile(target, "content")
	require.NoError(t, err)

	_, err = ops.CreateFile(target, "different")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateFile_OutsideWorkspaceRejected(t *testing.T) {
	ops, root := newTestOps(t)
	outside := filepath.Join(filepath.Dir(root), "outside.txt")

	_, err := ops.CreateFile(outside, "content")
	require.Error(t, err)
	var boundaryErr *workspace.BoundaryError
	assert.ErrorAs(t, err, &boundaryErr)
}

func TestDeleteFile_RemovesExistingFile(t *testing.T) {
	ops, root := newTestOps(t)
	target := filepath.Join(root, "test.txt")
	path, err := ops.CreateFile(target, "content")
	require.NoError(t, err)

	deleted, err := ops.DeleteFile(target)
	require.NoError(t, err)
	assert.Equal(t, path, deleted)
	assert.NoFileExists(t, path)
}

func TestDeleteFile_NotFoundErrors(t *testing.T) {
	ops, root := newTestOps(t)
	_, err := ops.DeleteFile(filepath.Join(root, "nonexistent.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFile_DirectoryErrors(t *testing.T) {
	ops, root := newTestOps(t)
	dir := filepath.Join(root, "subdir")
	require.NoError(t, os.Mkdir(dir, 0o755))

	_, err := ops.DeleteFile(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotADirectory)
}

func TestRename_MovesFile(t *testing.T) {
	ops, root := newTestOps(t)
	oldPath := filepath.Join(root, "old.txt")
	_, err := ops.CreateFile(oldPath, "content")
	require.NoError(t, err)

	from, to, err := ops.Rename(oldPath, filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	assert.NoFileExists(t, from)
	raw, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "content", string(raw))
}

func TestRename_SourceMissingErrors(t *testing.T) {
	ops, root := newTestOps(t)
	_, _, err := ops.Rename(filepath.Join(root, "missing.txt"), filepath.Join(root, "new.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRename_DestinationExistsErrors(t *testing.T) {
	ops, root := newTestOps(t)
	_, err := ops.CreateFile(filepath.Join(root, "old.txt"), "a")
	require.NoError(t, err)
	_, err = ops.CreateFile(filepath.Join(root, "new.txt"), "b")
	require.NoError(t, err)

	_, _, err = ops.Rename(filepath.Join(root, "old.txt"), filepath.Join(root, "new.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateDir_CreatesNestedDirs(t *testing.T) {
	ops, root := newTestOps(t)
	path, err := ops.CreateDir(filepath.Join(root, "subdir", "nested"))
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateDir_ExistingDirReturnsSamePath(t *testing.T) {
	ops, root := newTestOps(t)
	p1, err := ops.CreateDir(filepath.Join(root, "subdir"))
	require.NoError(t, err)
	p2, err := ops.CreateDir(filepath.Join(root, "subdir"))
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestCreateDir_ExistingFileErrors(t *testing.T) {
	ops, root := newTestOps(t)
	_, err := ops.CreateFile(filepath.Join(root, "name"), "content")
	require.NoError(t, err)

	_, err = ops.CreateDir(filepath.Join(root, "name"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}
