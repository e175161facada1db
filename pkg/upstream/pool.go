// Package upstream implements the Upstream Pool: a keyed set of MCP tool
// servers the proxy aggregates, each reachable over stdio, HTTP, or SSE.
package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/swarmgate/pkg/version"
)

// State is an upstream's connectivity status.
type State string

const (
	StateConnected State = "connected"
	StateUnhealthy State = "unhealthy"
)

// Config describes one upstream to add to the pool.
type Config struct {
	Name                string
	Transport           TransportConfig
	Priority            int // lower wins under PriorityOverride conflict resolution
	HealthCheckInterval time.Duration
	Tools               []string // optional advertised-tool allowlist; empty means all
}

// Handle is what callers receive from Get: the upstream's configuration and
// its current connectivity state. The live session stays inside the pool.
type Handle struct {
	Config Config
	State  State
}

// Pool holds one active session per upstream name.
type Pool struct {
	mu       sync.RWMutex
	configs  map[string]Config
	sessions map[string]*mcpsdk.ClientSession
	clients  map[string]*mcpsdk.Client
	states   map[string]State
	errors   map[string]string

	toolCacheMu sync.RWMutex
	toolCache   map[string][]*mcpsdk.Tool

	reinitMu sync.Map // name -> *sync.Mutex

	logger *slog.Logger
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		configs:   make(map[string]Config),
		sessions:  make(map[string]*mcpsdk.ClientSession),
		clients:   make(map[string]*mcpsdk.Client),
		states:    make(map[string]State),
		errors:    make(map[string]string),
		toolCache: make(map[string][]*mcpsdk.Tool),
		logger:    slog.Default(),
	}
}

// AddUpstream opens a client for cfg and marks it Connected. On connection
// failure the upstream is recorded as Unhealthy with the error retained for
// FailureReason, and the error is also returned so a startup readiness probe
// can decide whether to abort.
func (p *Pool) AddUpstream(ctx context.Context, cfg Config) error {
	muI, _ := p.reinitMu.LoadOrStore(cfg.Name, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	p.mu.Lock()
	p.configs[cfg.Name] = cfg
	p.mu.Unlock()

	return p.connectLocked(ctx, cfg.Name)
}

func (p *Pool) connectLocked(ctx context.Context, name string) error {
	p.mu.RLock()
	cfg, ok := p.configs[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("upstream %q not configured", name)
	}

	transport, err := createTransport(cfg.Transport)
	if err != nil {
		p.setUnhealthy(name, err)
		return fmt.Errorf("create transport for %q: %w", name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		p.setUnhealthy(name, err)
		return fmt.Errorf("connect to upstream %q: %w", name, err)
	}

	p.mu.Lock()
	p.sessions[name] = session
	p.clients[name] = client
	p.states[name] = StateConnected
	delete(p.errors, name)
	p.mu.Unlock()

	p.logger.Info("upstream connected", "upstream", name)
	return nil
}

func (p *Pool) setUnhealthy(name string, err error) {
	p.mu.Lock()
	p.states[name] = StateUnhealthy
	p.errors[name] = err.Error()
	p.mu.Unlock()
}

// Get returns the handle for name, or false if it was never added.
func (p *Pool) Get(name string) (Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.configs[name]
	if !ok {
		return Handle{}, false
	}
	return Handle{Config: cfg, State: p.states[name]}, true
}

// Names returns the configured upstream names.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.configs))
	for n := range p.configs {
		names = append(names, n)
	}
	return names
}

// ConnectedNames returns the names of upstreams currently in the Connected state.
func (p *Pool) ConnectedNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var names []string
	for n, s := range p.states {
		if s == StateConnected {
			names = append(names, n)
		}
	}
	return names
}

// Probe sends a lightweight call (ListTools) to verify connectivity; on
// failure it attempts one session recreation before declaring Unhealthy.
func (p *Pool) Probe(ctx context.Context, name string) error {
	p.InvalidateToolCache(name)

	probeCtx, cancel := context.WithTimeout(ctx, HealthPingTimeout)
	defer cancel()

	if _, err := p.ListTools(probeCtx, name); err == nil {
		p.mu.Lock()
		p.states[name] = StateConnected
		delete(p.errors, name)
		p.mu.Unlock()
		return nil
	}

	reconCtx, reconCancel := context.WithTimeout(ctx, HealthPingTimeout)
	defer reconCancel()
	if err := p.recreateSession(reconCtx, name); err != nil {
		p.setUnhealthy(name, err)
		return err
	}

	retryCtx, retryCancel := context.WithTimeout(ctx, HealthPingTimeout)
	defer retryCancel()
	if _, err := p.ListTools(retryCtx, name); err != nil {
		p.setUnhealthy(name, err)
		return err
	}

	p.mu.Lock()
	p.states[name] = StateConnected
	delete(p.errors, name)
	p.mu.Unlock()
	return nil
}

// Remove closes and forgets an upstream.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	if session, ok := p.sessions[name]; ok {
		_ = session.Close()
	}
	delete(p.sessions, name)
	delete(p.clients, name)
	delete(p.configs, name)
	delete(p.states, name)
	delete(p.errors, name)
	p.mu.Unlock()

	p.InvalidateToolCache(name)
}

// ListTools returns the tool list for an upstream, using the cache when present.
func (p *Pool) ListTools(ctx context.Context, name string) ([]*mcpsdk.Tool, error) {
	p.toolCacheMu.RLock()
	if cached, ok := p.toolCache[name]; ok {
		p.toolCacheMu.RUnlock()
		return cached, nil
	}
	p.toolCacheMu.RUnlock()

	p.mu.RLock()
	session, exists := p.sessions[name]
	p.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for upstream %q", name)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", name, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	p.toolCacheMu.Lock()
	p.toolCache[name] = tools
	p.toolCacheMu.Unlock()

	return tools, nil
}

// CallTool invokes a tool on an upstream, retrying once (possibly with a
// fresh session) when the failure is classified as recoverable.
func (p *Pool) CallTool(ctx context.Context, name, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: toolName, Arguments: args}

	result, err := p.callOnce(ctx, name, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := p.recreateSession(ctx, name); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", name, err)
		}
	}

	result, err = p.callOnce(ctx, name, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %s.%s: %w", name, toolName, err)
	}
	return result, nil
}

func (p *Pool) callOnce(ctx context.Context, name string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	p.mu.RLock()
	session, exists := p.sessions[name]
	p.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for upstream %q", name)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return session.CallTool(opCtx, params)
}

func (p *Pool) recreateSession(ctx context.Context, name string) error {
	muI, _ := p.reinitMu.LoadOrStore(name, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	p.mu.Lock()
	if session, exists := p.sessions[name]; exists {
		_ = session.Close()
		delete(p.sessions, name)
		delete(p.clients, name)
	}
	p.mu.Unlock()

	p.InvalidateToolCache(name)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()
	return p.connectLocked(reinitCtx, name)
}

// InvalidateToolCache drops the cached tool list for an upstream.
func (p *Pool) InvalidateToolCache(name string) {
	p.toolCacheMu.Lock()
	delete(p.toolCache, name)
	p.toolCacheMu.Unlock()
}

// Close shuts down every session.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, session := range p.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close upstream %q: %w", name, err)
		}
	}
	p.sessions = make(map[string]*mcpsdk.ClientSession)
	p.clients = make(map[string]*mcpsdk.Client)
	p.states = make(map[string]State)

	p.toolCacheMu.Lock()
	p.toolCache = make(map[string][]*mcpsdk.Tool)
	p.toolCacheMu.Unlock()

	return firstErr
}

// FailureReason returns the last recorded error for an unhealthy upstream.
func (p *Pool) FailureReason(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reason, ok := p.errors[name]
	return reason, ok
}
