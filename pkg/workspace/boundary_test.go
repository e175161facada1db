package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) (*BoundaryValidator, string) {
	t.Helper()
	root := t.TempDir()
	ws, err := Create(root)
	require.NoError(t, err)
	v, err := NewBoundaryValidator(ws)
	require.NoError(t, err)
	return v, root
}

func TestBoundaryValidator_AllowsDescendant(t *testing.T) {
	v, root := newTestValidator(t)

	canonical, err := v.Validate(filepath.Join(root, "notes.txt"), false)
	require.NoError(t, err)
	assert.True(t, isDescendant(v.Root(), canonical))
}

func TestBoundaryValidator_RejectsEscape(t *testing.T) {
	v, root := newTestValidator(t)

	_, err := v.Validate(filepath.Join(root, "..", "out.txt"), false)
	require.Error(t, err)
	var boundaryErr *BoundaryError
	require.ErrorAs(t, err, &boundaryErr)
	assert.Equal(t, OutsideWorkspace, boundaryErr.Kind)
}

func TestBoundaryValidator_MustExist(t *testing.T) {
	v, root := newTestValidator(t)

	_, err := v.Validate(filepath.Join(root, "missing.txt"), true)
	require.Error(t, err)
	var boundaryErr *BoundaryError
	require.ErrorAs(t, err, &boundaryErr)
	assert.Equal(t, PathNotFound, boundaryErr.Kind)

	present := filepath.Join(root, "present.txt")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))
	canonical, err := v.Validate(present, true)
	require.NoError(t, err)
	assert.NotEmpty(t, canonical)
}

func TestBoundaryValidator_RelativePathResolvesUnderRoot(t *testing.T) {
	v, _ := newTestValidator(t)

	canonical, err := v.Validate("subdir/file.txt", false)
	require.NoError(t, err)
	assert.True(t, isDescendant(v.Root(), canonical))
}

func TestParseRequirementID(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		wantN   int
	}{
		{"REQ-001", false, 1},
		{"REQ-123", false, 123},
		{"REQ-0001", false, 1},
		{"REQ-1", true, 0},
		{"REQ-01", true, 0},
		{"req-001", true, 0},
		{"REQ-abc", true, 0},
		{"REQ- 001", true, 0},
	}
	for _, c := range cases {
		got, err := ParseRequirementID(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.wantN, got.Number())
		assert.Equal(t, c.in, got.String())
	}
}

func TestNewRequirementID(t *testing.T) {
	assert.Equal(t, "REQ-007", NewRequirementID(7).String())
	assert.Equal(t, "REQ-1000", NewRequirementID(1000).String())
}
