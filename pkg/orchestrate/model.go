// Package orchestrate drives a function-calling model through repeated
// turns, dispatching the tool calls it emits and folding the results back
// into conversation history until the model stops asking for tools, the
// iteration budget is exhausted, or the caller cancels.
package orchestrate

import (
	"context"

	"github.com/codeready-toolchain/swarmgate/pkg/tool"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation history the loop serializes into
// each provider request and appends to after every turn.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []tool.Call // set on assistant messages that requested tools
	ToolCallID string      // set on tool-role messages
	ToolName   string      // set on tool-role messages
}

// Usage accumulates token counts across turns.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add folds o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// GenerateRequest is what the loop hands the model each turn.
type GenerateRequest struct {
	History     []Message
	Tools       []*tool.Tool
	Temperature float64
}

// GenerateResponse is the parsed model output for one turn.
type GenerateResponse struct {
	Text      string
	ToolCalls []tool.Call
	Usage     Usage
}

// Model is the provider-facing abstraction the loop drives. A concrete
// implementation wraps a client handle obtained from the model cache for a
// specific (provider_kind, model_id) pair.
type Model interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// RecoverableError marks a Model error as safe to retry with backoff. A
// Model implementation wraps transport/provider errors it knows are
// transient (timeouts, 429s, connection resets) in this type; anything else
// surfaces to the caller on the first failure.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string { return e.Err.Error() }
func (e *RecoverableError) Unwrap() error { return e.Err }
