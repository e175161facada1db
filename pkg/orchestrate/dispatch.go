package orchestrate

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/swarmgate/pkg/policy"
	"github.com/codeready-toolchain/swarmgate/pkg/tool"
)

// Dispatcher executes a resolved tool call. tool.Dispatcher satisfies this.
type Dispatcher interface {
	Execute(ctx context.Context, call tool.Call) (*tool.Result, error)
}

// PolicyChecker resolves admission for a call before it reaches the
// dispatcher. policy.Engine satisfies this via its Evaluate method. A nil
// PolicyChecker allows every call.
type PolicyChecker interface {
	Evaluate(toolName string, args map[string]any) policy.Decision
}

// dispatchAll runs calls concurrently, bounded by cfg.resolvedConcurrency(),
// and returns results indexed to match calls — not completion order, so the
// caller can append tool-response messages in original emission order. A
// context already cancelled before a given call starts causes that call to
// short-circuit with a Cancelled result instead of reaching the dispatcher.
func (l *Loop) dispatchAll(ctx context.Context, cfg Config, calls []tool.Call) []*tool.Result {
	results := make([]*tool.Result, len(calls))
	sem := make(chan struct{}, cfg.resolvedConcurrency(len(calls)))
	done := make(chan int, len(calls))

	for i, call := range calls {
		i, call := i, call
		go func() {
			sem <- struct{}{}
			defer func() { <-sem; done <- i }()
			results[i] = l.dispatchOne(ctx, cfg, call)
		}()
	}
	for range calls {
		<-done
	}
	return results
}

func (l *Loop) dispatchOne(ctx context.Context, cfg Config, call tool.Call) *tool.Result {
	if ctx.Err() != nil {
		return &tool.Result{
			CallID:  call.ID,
			Name:    call.Name,
			Content: "cancelled before dispatch",
			IsError: true,
		}
	}

	if l.policy != nil {
		decision := l.policy.Evaluate(call.Name, call.Arguments)
		switch decision.Action {
		case policy.ActionDeny:
			return &tool.Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("denied by policy: %s", decision.Reason),
				IsError: true,
			}
		case policy.ActionAskUser:
			return &tool.Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("requires user approval: %s", decision.Reason),
				IsError: true,
			}
		}
	}

	callCtx := ctx
	if cfg.PerCallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.PerCallTimeout)
		defer cancel()
	}

	result, err := l.dispatcher.Execute(callCtx, call)
	if err != nil {
		return &tool.Result{CallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true}
	}
	return result
}
