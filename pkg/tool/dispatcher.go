package tool

import (
	"context"
	"fmt"
)

// Dispatcher resolves a call against a Registry and invokes the matching
// handler. It does not enforce policy or rate limits; callers wrap it with
// those layers (the policy and rate-limit packages operate on the same
// (name, args) shape before a call reaches here).
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher builds a Dispatcher over registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Execute looks up call.Name, validates required arguments, and invokes the
// handler. An unknown tool name or a schema violation surfaces as a
// business-level Result (IsError=true), not a Go error, so the orchestration
// loop can fold it into conversation history the same way a handler failure
// would be folded in.
func (d *Dispatcher) Execute(ctx context.Context, call Call) (*Result, error) {
	t, ok := d.registry.Get(call.Name)
	if !ok {
		return &Result{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("unknown tool %q", call.Name),
			IsError: true,
		}, nil
	}

	if err := t.validate(call.Arguments); err != nil {
		return &Result{
			CallID:  call.ID,
			Name:    call.Name,
			Content: err.Error(),
			IsError: true,
		}, nil
	}

	result, err := t.Handler.Execute(ctx, call.Arguments)
	if err != nil {
		return &Result{
			CallID:  call.ID,
			Name:    call.Name,
			Content: err.Error(),
			IsError: true,
		}, nil
	}
	if result.CallID == "" {
		result.CallID = call.ID
	}
	if result.Name == "" {
		result.Name = call.Name
	}
	return result, nil
}
