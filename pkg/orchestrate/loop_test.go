package orchestrate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/swarmgate/pkg/policy"
	"github.com/codeready-toolchain/swarmgate/pkg/tool"
)

// scriptedModel replays a fixed sequence of responses/errors, one per call.
type scriptedModel struct {
	calls     int32
	responses []*GenerateResponse
	errs      []error
}

func (m *scriptedModel) Generate(_ context.Context, _ GenerateRequest) (*GenerateResponse, error) {
	i := atomic.AddInt32(&m.calls, 1) - 1
	if int(i) < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if int(i) < len(m.responses) {
		return m.responses[i], nil
	}
	return &GenerateResponse{Text: "done"}, nil
}

// slowDispatcher delays each call by a duration keyed on the call name, so
// tests can force out-of-order completion while asserting in-order append.
type slowDispatcher struct {
	delays map[string]time.Duration
}

func (d *slowDispatcher) Execute(ctx context.Context, call tool.Call) (*tool.Result, error) {
	if delay, ok := d.delays[call.Name]; ok {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &tool.Result{CallID: call.ID, Name: call.Name, Content: "ran " + call.Name}, nil
}

func TestLoop_StopsOnEmptyToolCalls(t *testing.T) {
	model := &scriptedModel{responses: []*GenerateResponse{{Text: "the answer is 4"}}}
	l := New(model, &slowDispatcher{}, nil, nil, Config{}, nil)

	result, err := l.Run(context.Background(), nil, "what is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, StopText, result.StopReason)
	assert.Equal(t, "the answer is 4", result.Text)
	assert.Equal(t, 1, result.Turns)
}

func TestLoop_DispatchesToolCallsAndAppendsResultsInOriginalOrder(t *testing.T) {
	model := &scriptedModel{responses: []*GenerateResponse{
		{ToolCalls: []tool.Call{
			{ID: "1", Name: "slow_one"},
			{ID: "2", Name: "fast_two"},
		}},
		{Text: "finished"},
	}}
	dispatcher := &slowDispatcher{delays: map[string]time.Duration{
		"slow_one": 40 * time.Millisecond,
	}}
	l := New(model, dispatcher, nil, nil, Config{}, nil)

	result, err := l.Run(context.Background(), nil, "do two things")
	require.NoError(t, err)
	assert.Equal(t, StopText, result.StopReason)

	var toolMsgs []Message
	for _, m := range result.History {
		if m.Role == RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "1", toolMsgs[0].ToolCallID)
	assert.Equal(t, "2", toolMsgs[1].ToolCallID)
}

func TestLoop_MaxIterationsStopsLoop(t *testing.T) {
	always := &GenerateResponse{ToolCalls: []tool.Call{{ID: "1", Name: "noop"}}}
	model := &scriptedModel{responses: []*GenerateResponse{always, always, always, always, always}}
	l := New(model, &slowDispatcher{}, nil, nil, Config{MaxIterations: 3}, nil)

	result, err := l.Run(context.Background(), nil, "loop forever")
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, result.StopReason)
	assert.Equal(t, 3, result.Turns)
}

func TestLoop_CancellationReturnsPartialHistoryBeforeDispatch(t *testing.T) {
	model := &scriptedModel{responses: []*GenerateResponse{
		{ToolCalls: []tool.Call{{ID: "1", Name: "never_runs"}}},
	}}
	dispatcher := &slowDispatcher{}
	l := New(model, dispatcher, nil, nil, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := l.Run(ctx, nil, "cancel me")
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, result.StopReason)
}

func TestLoop_DeniedByPolicySynthesizesFailureResultInsteadOfDispatching(t *testing.T) {
	model := &scriptedModel{responses: []*GenerateResponse{
		{ToolCalls: []tool.Call{{ID: "1", Name: "delete_file"}}},
		{Text: "stopped"},
	}}
	dispatchCalled := false
	dispatcher := &recordingDispatcher{onExecute: func(tool.Call) { dispatchCalled = true }}
	engine := policy.New([]policy.Rule{
		{Name: "no-deletes", ToolPattern: "delete_*", Action: policy.ActionDeny, Reason: "destructive"},
	}, policy.ApprovalAuto, nil)

	l := New(model, dispatcher, engine, nil, Config{}, nil)
	result, err := l.Run(context.Background(), nil, "delete it")
	require.NoError(t, err)

	assert.False(t, dispatchCalled)
	var toolMsg Message
	for _, m := range result.History {
		if m.Role == RoleTool {
			toolMsg = m
		}
	}
	assert.Contains(t, toolMsg.Content, "denied by policy")
}

func TestLoop_RecoverableModelErrorRetriesThenSucceeds(t *testing.T) {
	model := &scriptedModel{
		errs:      []error{&RecoverableError{Err: errors.New("upstream overloaded")}},
		responses: []*GenerateResponse{nil, {Text: "recovered"}},
	}
	l := New(model, &slowDispatcher{}, nil, nil, Config{PerTurnTimeout: time.Second}, nil)

	result, err := l.Run(context.Background(), nil, "retry me")
	require.NoError(t, err)
	assert.Equal(t, StopText, result.StopReason)
	assert.Equal(t, "recovered", result.Text)
}

func TestLoop_NonRecoverableModelErrorSurfacesImmediately(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("invalid api key")}}
	l := New(model, &slowDispatcher{}, nil, nil, Config{}, nil)

	_, err := l.Run(context.Background(), nil, "fail fast")
	assert.EqualError(t, err, "invalid api key")
}

type recordingDispatcher struct {
	onExecute func(tool.Call)
}

func (d *recordingDispatcher) Execute(_ context.Context, call tool.Call) (*tool.Result, error) {
	if d.onExecute != nil {
		d.onExecute(call)
	}
	return &tool.Result{CallID: call.ID, Name: call.Name, Content: "ran"}, nil
}
