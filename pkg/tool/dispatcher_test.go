package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_ExecuteSuccess(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		RegisteredName: "fs:read_file",
		Schema:         ObjectSchema{Required: []string{"path"}},
		Handler: HandlerFunc(func(ctx context.Context, args map[string]any) (*Result, error) {
			return &Result{Content: "file contents for " + args["path"].(string)}, nil
		}),
	}))
	d := NewDispatcher(r)

	res, err := d.Execute(context.Background(), Call{
		ID:        "call-1",
		Name:      "fs:read_file",
		Arguments: map[string]any{"path": "/tmp/x", "unused_extra": true},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "call-1", res.CallID)
	assert.Equal(t, "fs:read_file", res.Name)
	assert.Equal(t, "file contents for /tmp/x", res.Content)
}

func TestDispatcher_UnknownToolIsBusinessError(t *testing.T) {
	d := NewDispatcher(NewRegistry())

	res, err := d.Execute(context.Background(), Call{ID: "c1", Name: "nope"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "nope")
}

func TestDispatcher_MissingRequiredArgRejectedSynchronously(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		RegisteredName: "fs:delete_file",
		Schema:         ObjectSchema{Required: []string{"path"}},
		Handler: HandlerFunc(func(ctx context.Context, args map[string]any) (*Result, error) {
			t.Fatal("handler should not run when required args are missing")
			return nil, nil
		}),
	}))
	d := NewDispatcher(r)

	res, err := d.Execute(context.Background(), Call{ID: "c1", Name: "fs:delete_file", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "path")
}

func TestDispatcher_HandlerErrorBecomesResult(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		RegisteredName: "shell:exec",
		Handler: HandlerFunc(func(ctx context.Context, args map[string]any) (*Result, error) {
			return nil, errors.New("boom")
		}),
	}))
	d := NewDispatcher(r)

	res, err := d.Execute(context.Background(), Call{ID: "c1", Name: "shell:exec"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "boom", res.Content)
}

func TestDispatcher_UnknownKeysPassThrough(t *testing.T) {
	r := NewRegistry()
	var gotArgs map[string]any
	require.NoError(t, r.Register(&Tool{
		RegisteredName: "noop",
		Handler: HandlerFunc(func(ctx context.Context, args map[string]any) (*Result, error) {
			gotArgs = args
			return &Result{}, nil
		}),
	}))
	d := NewDispatcher(r)

	_, err := d.Execute(context.Background(), Call{Name: "noop", Arguments: map[string]any{"surprise": 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, gotArgs["surprise"])
}
