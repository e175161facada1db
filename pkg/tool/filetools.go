package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/swarmgate/pkg/fileops"
)

// RegisterFileTools registers the orchestration loop's file-editing tools
// (create_file, delete_file, rename, create_dir, apply_patch) against reg,
// each backed by ops. These are the tools the spec's file-operations
// component exists to serve; the dispatcher enforces no policy of its own
// on them, same as every other registered tool.
func RegisterFileTools(reg *Registry, ops *fileops.Ops) error {
	tools := []*Tool{
		createFileTool(ops),
		deleteFileTool(ops),
		renameTool(ops),
		createDirTool(ops),
		applyPatchTool(ops),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(args)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}

func fileOpResult(name, resolvedPath string, err error) (*Result, error) {
	if err != nil {
		var opErr *fileops.OpError
		if errors.As(err, &opErr) {
			return &Result{Name: name, Content: opErr.Error(), IsError: true}, nil
		}
		return nil, err
	}
	return &Result{Name: name, Content: resolvedPath}, nil
}

func createFileTool(ops *fileops.Ops) *Tool {
	type createFileArgs struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	return &Tool{
		RegisteredName: "create_file",
		Description:    "Create a new file with the given content. Fails if the file already exists.",
		Schema: ObjectSchema{
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "workspace-relative or absolute path"},
				"content": {Type: "string", Description: "file contents"},
			},
			Required: []string{"path", "content"},
		},
		Handler: HandlerFunc(func(_ context.Context, args map[string]any) (*Result, error) {
			a, err := decodeArgs[createFileArgs](args)
			if err != nil {
				return nil, err
			}
			resolved, opErr := ops.CreateFile(a.Path, a.Content)
			return fileOpResult("create_file", resolved, opErr)
		}),
	}
}

func deleteFileTool(ops *fileops.Ops) *Tool {
	type deleteFileArgs struct {
		Path string `json:"path"`
	}
	return &Tool{
		RegisteredName: "delete_file",
		Description:    "Delete an existing file. Fails if the path is missing or is a directory.",
		Schema: ObjectSchema{
			Properties: map[string]Property{
				"path": {Type: "string", Description: "workspace-relative or absolute path"},
			},
			Required: []string{"path"},
		},
		Handler: HandlerFunc(func(_ context.Context, args map[string]any) (*Result, error) {
			a, err := decodeArgs[deleteFileArgs](args)
			if err != nil {
				return nil, err
			}
			resolved, opErr := ops.DeleteFile(a.Path)
			return fileOpResult("delete_file", resolved, opErr)
		}),
	}
}

func renameTool(ops *fileops.Ops) *Tool {
	type renameArgs struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	return &Tool{
		RegisteredName: "rename",
		Description:    "Move or rename a file. The source must exist; the destination must not.",
		Schema: ObjectSchema{
			Properties: map[string]Property{
				"from": {Type: "string", Description: "existing path"},
				"to":   {Type: "string", Description: "new path"},
			},
			Required: []string{"from", "to"},
		},
		Handler: HandlerFunc(func(_ context.Context, args map[string]any) (*Result, error) {
			a, err := decodeArgs[renameArgs](args)
			if err != nil {
				return nil, err
			}
			_, resolvedTo, opErr := ops.Rename(a.From, a.To)
			return fileOpResult("rename", resolvedTo, opErr)
		}),
	}
}

func createDirTool(ops *fileops.Ops) *Tool {
	type createDirArgs struct {
		Path string `json:"path"`
	}
	return &Tool{
		RegisteredName: "create_dir",
		Description:    "Create a directory and any missing parents.",
		Schema: ObjectSchema{
			Properties: map[string]Property{
				"path": {Type: "string", Description: "workspace-relative or absolute path"},
			},
			Required: []string{"path"},
		},
		Handler: HandlerFunc(func(_ context.Context, args map[string]any) (*Result, error) {
			a, err := decodeArgs[createDirArgs](args)
			if err != nil {
				return nil, err
			}
			resolved, opErr := ops.CreateDir(a.Path)
			return fileOpResult("create_dir", resolved, opErr)
		}),
	}
}

func applyPatchTool(ops *fileops.Ops) *Tool {
	type applyPatchArgs struct {
		Patches []fileops.FilePatch `json:"patches"`
	}
	return &Tool{
		RegisteredName: "apply_patch",
		Description:    "Apply hunk-based patches to one or more files as a single transaction.",
		Schema: ObjectSchema{
			Properties: map[string]Property{
				"patches": {Type: "array", Description: "list of {path, hunks} patch objects"},
			},
			Required: []string{"patches"},
		},
		Handler: HandlerFunc(func(_ context.Context, args map[string]any) (*Result, error) {
			a, err := decodeArgs[applyPatchArgs](args)
			if err != nil {
				return nil, err
			}
			paths, opErr := ops.ApplyPatch(a.Patches)
			if opErr != nil {
				var partial *fileops.PartialPatchError
				if errors.As(opErr, &partial) {
					return &Result{Name: "apply_patch", Content: partial.Error(), IsError: true}, nil
				}
				return &Result{Name: "apply_patch", Content: opErr.Error(), IsError: true}, nil
			}
			raw, err := json.Marshal(paths)
			if err != nil {
				return nil, err
			}
			return &Result{Name: "apply_patch", Content: string(raw)}, nil
		}),
	}
}
