package orchestrate

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/codeready-toolchain/swarmgate/pkg/tool"
)

// StopReason names why Run returned.
type StopReason string

const (
	StopText          StopReason = "text"
	StopMaxIterations StopReason = "max_iterations"
	StopCancelled     StopReason = "cancelled"
)

// Default tuning, applied by Config.withDefaults when a field is zero.
const (
	DefaultMaxIterations      = 10
	DefaultPerTurnTimeout     = 60 * time.Second
	DefaultPerCallTimeout     = 30 * time.Second
	DefaultMaxRetries         = 2
	DefaultMaxConcurrentCalls = 8
	retryBackoffMin           = 250 * time.Millisecond
	retryBackoffMax           = 750 * time.Millisecond
)

// Config tunes a Loop's behavior.
type Config struct {
	MaxIterations      int
	Temperature        float64
	PerTurnTimeout     time.Duration
	PerCallTimeout     time.Duration
	MaxRetries         int
	MaxConcurrentCalls int // 0 = clamp to DefaultMaxConcurrentCalls
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.PerTurnTimeout <= 0 {
		c.PerTurnTimeout = DefaultPerTurnTimeout
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = DefaultPerCallTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	return c
}

// resolvedConcurrency bounds the worker count to the smaller of the number
// of pending calls and the configured ceiling, never zero.
func (c Config) resolvedConcurrency(numCalls int) int {
	n := c.MaxConcurrentCalls
	if numCalls < n {
		n = numCalls
	}
	if n <= 0 {
		n = 1
	}
	return n
}

// Result is what Run returns: either a final answer or a reason the loop
// stopped short of one, plus the full conversation history accumulated so
// far (always safe to resume from, even on Cancelled).
type Result struct {
	Text       string
	StopReason StopReason
	History    []Message
	Usage      Usage
	Turns      int
}

// Loop drives a Model through repeated turns against a fixed tool surface.
type Loop struct {
	model      Model
	dispatcher Dispatcher
	policy     PolicyChecker
	tools      []*tool.Tool
	cfg        Config
	logger     *slog.Logger
}

// New builds a Loop. policyChecker may be nil to allow every call
// unconditionally.
func New(model Model, dispatcher Dispatcher, policyChecker PolicyChecker, tools []*tool.Tool, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		model:      model,
		dispatcher: dispatcher,
		policy:     policyChecker,
		tools:      tools,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Run drives turns against history + userInput until the model returns a
// final answer, the iteration budget is exhausted, or ctx is cancelled.
// History is never mutated in place; the returned Result.History is a fresh
// slice safe for the caller to persist or resume from.
func (l *Loop) Run(ctx context.Context, history []Message, userInput string) (*Result, error) {
	cfg := l.cfg
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: userInput})

	var usage Usage

	for turn := 0; ; turn++ {
		if ctx.Err() != nil {
			return &Result{History: msgs, StopReason: StopCancelled, Usage: usage, Turns: turn}, nil
		}
		if turn >= cfg.MaxIterations {
			return &Result{History: msgs, StopReason: StopMaxIterations, Usage: usage, Turns: turn}, nil
		}

		turnCtx, cancel := context.WithTimeout(ctx, cfg.PerTurnTimeout)
		resp, err := l.generateWithRetry(turnCtx, cfg, msgs)
		cancel()
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: resp.Text})
			return &Result{Text: resp.Text, StopReason: StopText, History: msgs, Usage: usage, Turns: turn + 1}, nil
		}

		msgs = append(msgs, Message{Role: RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})

		if ctx.Err() != nil {
			return &Result{History: msgs, StopReason: StopCancelled, Usage: usage, Turns: turn + 1}, nil
		}

		results := l.dispatchAll(ctx, cfg, resp.ToolCalls)
		for i, call := range resp.ToolCalls {
			r := results[i]
			msgs = append(msgs, Message{
				Role:       RoleTool,
				Content:    r.Content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}
}

// generateWithRetry calls the model, retrying with jittered backoff up to
// cfg.MaxRetries when the error is a RecoverableError. Anything else
// surfaces immediately.
func (l *Loop) generateWithRetry(ctx context.Context, cfg Config, history []Message) (*GenerateResponse, error) {
	req := GenerateRequest{History: history, Tools: l.tools, Temperature: cfg.Temperature}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := l.model.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var recoverable *RecoverableError
		if !errors.As(err, &recoverable) {
			return nil, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		l.logger.Warn("model call failed, retrying", "attempt", attempt+1, "error", err)
		backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
