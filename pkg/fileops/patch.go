package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Hunk is one contiguous change within a file, addressed by 1-based line
// numbers in the file's pre-patch state.
type Hunk struct {
	OldStart      int      `json:"old_start"`
	OldLines      int      `json:"old_lines"`
	NewStart      int      `json:"new_start"`
	NewLines      int      `json:"new_lines"`
	ContextBefore []string `json:"context_before"`
	Removed       []string `json:"removed"`
	Added         []string `json:"added"`
	ContextAfter  []string `json:"context_after"`
}

// FilePatch is the set of hunks to apply to one file.
type FilePatch struct {
	Path  string `json:"path"`
	Hunks []Hunk `json:"hunks"`
}

type stagedFile struct {
	path    string // resolved target path
	tmpPath string
	backup  []byte
}

// ApplyPatch applies every file's hunks in one transaction: each file's
// hunks are validated and rendered into a staged temp file first; nothing
// is written to a real target until every file in the patch has staged
// cleanly. The commit step then renames each staged file over its target.
// If a rename fails partway through, already-committed files are
// best-effort reverted from their pre-patch contents and a PartialPatchError
// lists any that could not be reverted.
func (o *Ops) ApplyPatch(patches []FilePatch) ([]string, error) {
	staged := make([]stagedFile, 0, len(patches))
	defer func() {
		for _, s := range staged {
			os.Remove(s.tmpPath)
		}
	}()

	for _, fp := range patches {
		resolved, err := o.validator.Validate(fp.Path, true)
		if err != nil {
			return nil, err
		}

		original, err := os.ReadFile(resolved)
		if err != nil {
			return nil, &OpError{Op: "apply_patch", Path: fp.Path, Err: err}
		}

		patched, err := applyHunks(original, fp.Hunks)
		if err != nil {
			return nil, &OpError{Op: "apply_patch", Path: fp.Path, Err: err}
		}

		tmp, err := os.CreateTemp(filepath.Dir(resolved), ".patch-*")
		if err != nil {
			return nil, &OpError{Op: "apply_patch", Path: fp.Path, Err: err}
		}
		if _, err := tmp.Write(patched); err != nil {
			tmp.Close()
			return nil, &OpError{Op: "apply_patch", Path: fp.Path, Err: err}
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return nil, &OpError{Op: "apply_patch", Path: fp.Path, Err: err}
		}
		tmp.Close()

		staged = append(staged, stagedFile{path: resolved, tmpPath: tmp.Name(), backup: original})
	}

	committed := 0
	for _, s := range staged {
		if err := os.Rename(s.tmpPath, s.path); err != nil {
			dirty := revertCommitted(staged[:committed])
			return nil, &PartialPatchError{DirtyFiles: dirty, Err: fmt.Errorf("commit %s: %w", s.path, err)}
		}
		committed++
	}

	paths := make([]string, len(staged))
	for i, s := range staged {
		paths[i] = s.path
	}
	return paths, nil
}

// revertCommitted restores each already-committed file's pre-patch contents,
// returning the paths for which the revert write itself failed.
func revertCommitted(committed []stagedFile) []string {
	var dirty []string
	for _, s := range committed {
		if err := os.WriteFile(s.path, s.backup, 0o644); err != nil {
			dirty = append(dirty, s.path)
		}
	}
	return dirty
}

// applyHunks renders the post-patch contents of a file, applying hunks in
// ascending old_start order and requiring each hunk's addressed lines to
// match context_before+removed+context_after exactly before substituting
// context_before+added+context_after in their place.
func applyHunks(original []byte, hunks []Hunk) ([]byte, error) {
	lines, trailingNewline := splitLines(original)

	sorted := make([]Hunk, len(hunks))
	copy(sorted, hunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OldStart < sorted[j].OldStart })

	var result []string
	cursor := 0

	for _, h := range sorted {
		start := h.OldStart - 1
		if start < cursor {
			return nil, fmt.Errorf("hunks overlap at old_start=%d", h.OldStart)
		}
		if start < 0 || start+h.OldLines > len(lines) {
			return nil, fmt.Errorf("hunk out of range: old_start=%d old_lines=%d", h.OldStart, h.OldLines)
		}

		result = append(result, lines[cursor:start]...)

		expected := concatLines(h.ContextBefore, h.Removed, h.ContextAfter)
		actual := lines[start : start+h.OldLines]
		if !linesEqualNormalized(expected, actual) {
			return nil, fmt.Errorf("hunk context mismatch at old_start=%d", h.OldStart)
		}

		result = append(result, h.ContextBefore...)
		result = append(result, h.Added...)
		result = append(result, h.ContextAfter...)

		cursor = start + h.OldLines
	}
	result = append(result, lines[cursor:]...)

	return joinLines(result, trailingNewline), nil
}

func concatLines(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func linesEqualNormalized(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if normalizeLine(a[i]) != normalizeLine(b[i]) {
			return false
		}
	}
	return true
}

// normalizeLine strips a trailing carriage return so CRLF and LF line
// endings compare equal.
func normalizeLine(s string) string {
	return strings.TrimSuffix(s, "\r")
}

func splitLines(data []byte) (lines []string, trailingNewline bool) {
	s := string(data)
	trailingNewline = strings.HasSuffix(s, "\n")
	if trailingNewline {
		s = s[:len(s)-1]
	}
	if s == "" {
		return nil, trailingNewline
	}
	return strings.Split(s, "\n"), trailingNewline
}

func joinLines(lines []string, trailingNewline bool) []byte {
	s := strings.Join(lines, "\n")
	if trailingNewline {
		s += "\n"
	}
	return []byte(s)
}
