package orchestrate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/swarmgate/pkg/tool"
)

// concurrencyTrackingDispatcher records the highest number of Execute calls
// observed in flight at once.
type concurrencyTrackingDispatcher struct {
	inFlight int32
	peak     int32
	hold     time.Duration
}

func (d *concurrencyTrackingDispatcher) Execute(ctx context.Context, call tool.Call) (*tool.Result, error) {
	cur := atomic.AddInt32(&d.inFlight, 1)
	defer atomic.AddInt32(&d.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&d.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&d.peak, peak, cur) {
			break
		}
	}
	select {
	case <-time.After(d.hold):
	case <-ctx.Done():
	}
	return &tool.Result{CallID: call.ID, Name: call.Name}, nil
}

func TestLoop_DispatchAll_BoundsConcurrency(t *testing.T) {
	dispatcher := &concurrencyTrackingDispatcher{hold: 20 * time.Millisecond}
	l := New(&scriptedModel{}, dispatcher, nil, nil, Config{MaxConcurrentCalls: 2}, nil)

	calls := make([]tool.Call, 6)
	for i := range calls {
		calls[i] = tool.Call{ID: "c", Name: "x"}
	}

	results := l.dispatchAll(context.Background(), l.cfg, calls)
	require.Len(t, results, 6)
	assert.LessOrEqual(t, int(dispatcher.peak), 2)
}

func TestLoop_DispatchAll_DefaultsConcurrencyToCallCountWhenUnderCeiling(t *testing.T) {
	dispatcher := &concurrencyTrackingDispatcher{hold: 20 * time.Millisecond}
	l := New(&scriptedModel{}, dispatcher, nil, nil, Config{}, nil)

	calls := []tool.Call{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}, {ID: "3", Name: "c"}}
	results := l.dispatchAll(context.Background(), l.cfg, calls)

	require.Len(t, results, 3)
	assert.Equal(t, int32(3), dispatcher.peak)
}

func TestLoop_DispatchOne_PerCallTimeoutAppliesIndependently(t *testing.T) {
	dispatcher := &slowDispatcher{delays: map[string]time.Duration{"slow": 100 * time.Millisecond}}
	l := New(&scriptedModel{}, dispatcher, nil, nil, Config{PerCallTimeout: 10 * time.Millisecond}, nil)

	result := l.dispatchOne(context.Background(), l.cfg, tool.Call{ID: "1", Name: "slow"})
	assert.True(t, result.IsError)
}
