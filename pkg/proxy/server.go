// Package proxy implements the MCP Proxy Server: the single aggregated
// tool surface agents see, backed by the tool catalog and upstream pool.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/swarmgate/pkg/catalog"
	"github.com/codeready-toolchain/swarmgate/pkg/policy"
	"github.com/codeready-toolchain/swarmgate/pkg/ratelimit"
	"github.com/codeready-toolchain/swarmgate/pkg/secret"
	"github.com/codeready-toolchain/swarmgate/pkg/upstream"
)

// Config controls proxy-wide, non-routing behavior.
type Config struct {
	// ShutdownGrace bounds how long Shutdown waits for in-flight calls to
	// drain before returning regardless.
	ShutdownGrace time.Duration
}

// Server fronts the upstream pool with one aggregated tool surface: clients
// see the catalog's tool list and call tools by registered name, never by
// upstream. Every call passes through the policy engine and the rate
// limiter before reaching an upstream.
type Server struct {
	pool    *upstream.Pool
	catalog *catalog.Catalog
	policy  *policy.Engine
	limiter *ratelimit.Limiter
	redact  *secret.Redactor

	cfg Config

	mu       sync.Mutex
	closing  bool
	inFlight sync.WaitGroup

	logger *slog.Logger
}

// NewServer wires a proxy server over an already-populated pool and catalog.
// policyEngine and limiter may be nil; nil disables the corresponding check.
func NewServer(pool *upstream.Pool, cat *catalog.Catalog, policyEngine *policy.Engine, limiter *ratelimit.Limiter, redactor *secret.Redactor, cfg Config) *Server {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Server{
		pool:    pool,
		catalog: cat,
		policy:  policyEngine,
		limiter: limiter,
		redact:  redactor,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// wireTool is the over-the-wire shape of one catalog entry, per the proxy's
// tools/list response.
type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type listToolsResponse struct {
	Tools []wireTool `json:"tools"`
}

type callToolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	AgentID   string         `json:"agent_id"`
}

type wireContent struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Audio string `json:"audio,omitempty"`
}

type callToolResponse struct {
	Content []wireContent `json:"content"`
	IsError bool          `json:"is_error"`
}

// ListTools handles a tools/list request: the full catalog, verbatim.
func (s *Server) ListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.catalog.All()
	resp := listToolsResponse{Tools: make([]wireTool, 0, len(tools))}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CallTool handles a tools/call request: policy, then rate limit, then
// routing (explicit "<upstream>:<original>" bypass or catalog lookup), then
// dispatch with at most one retry on a different upstream.
func (s *Server) CallTool(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closing := s.closing
	if !closing {
		s.inFlight.Add(1)
	}
	s.mu.Unlock()
	if closing {
		http.Error(w, "proxy is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.inFlight.Done()

	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if s.policy != nil {
		decision := s.policy.Evaluate(req.Name, req.Arguments)
		switch decision.Action {
		case policy.ActionDeny:
			writeJSON(w, http.StatusOK, callToolResponse{
				Content: []wireContent{{Text: "denied by policy: " + decision.Reason}},
				IsError: true,
			})
			return
		case policy.ActionAskUser:
			writeJSON(w, http.StatusOK, callToolResponse{
				Content: []wireContent{{Text: "requires user approval: " + decision.Reason}},
				IsError: true,
			})
			return
		}
		// ActionAllow and ActionDryRunFirst both proceed; dry-run execution
		// semantics are a caller-side concern per the policy engine's contract.
	}

	if s.limiter != nil {
		key := req.AgentID + ":" + req.Name
		if err := s.limiter.Check(key); err != nil {
			writeJSON(w, http.StatusOK, callToolResponse{
				Content: []wireContent{{Text: err.Error()}},
				IsError: true,
			})
			return
		}
	}

	upstreamName, originalName, explicit := s.resolveRoute(req.Name)
	if upstreamName == "" {
		writeJSON(w, http.StatusOK, callToolResponse{
			Content: []wireContent{{Text: fmt.Sprintf("unknown tool: %s", req.Name)}},
			IsError: true,
		})
		return
	}

	result, err := s.pool.CallTool(r.Context(), upstreamName, originalName, req.Arguments)
	if err != nil && !explicit {
		if alt, ok := s.findAlternateUpstream(r.Context(), originalName, upstreamName); ok {
			s.logger.Warn("retrying tool call on alternate upstream",
				"tool", originalName, "failed_upstream", upstreamName, "alternate_upstream", alt)
			result, err = s.pool.CallTool(r.Context(), alt, originalName, req.Arguments)
		}
	}
	if err != nil {
		writeJSON(w, http.StatusOK, callToolResponse{
			Content: []wireContent{{Text: s.redactText(err.Error())}},
			IsError: true,
		})
		return
	}

	writeJSON(w, http.StatusOK, toWireResult(result, s.redact))
}

// resolveRoute returns the upstream and original tool name for a requested
// name. An explicit "<upstream>:<original>" name bypasses the catalog
// entirely; otherwise the catalog's conflict-resolved mapping applies.
func (s *Server) resolveRoute(requested string) (upstreamName, originalName string, explicit bool) {
	if idx := strings.Index(requested, ":"); idx > 0 {
		candidateUpstream := requested[:idx]
		candidateOriginal := requested[idx+1:]
		if _, ok := s.pool.Get(candidateUpstream); ok {
			return candidateUpstream, candidateOriginal, true
		}
	}
	if src, ok := s.catalog.Source(requested); ok {
		original, _ := s.catalog.Original(requested)
		return src, original, false
	}
	return "", "", false
}

func (s *Server) findAlternateUpstream(ctx context.Context, originalName, exclude string) (string, bool) {
	for _, name := range s.pool.ConnectedNames() {
		if name == exclude {
			continue
		}
		tools, err := s.pool.ListTools(ctx, name)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if t.Name == originalName {
				return name, true
			}
		}
	}
	return "", false
}

func (s *Server) redactText(text string) string {
	if s.redact == nil {
		return text
	}
	return s.redact.Redact(text)
}

func toWireResult(result *mcpsdk.CallToolResult, redactor *secret.Redactor) callToolResponse {
	resp := callToolResponse{IsError: result.IsError}
	for _, c := range result.Content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			text := v.Text
			if redactor != nil {
				text = redactor.Redact(text)
			}
			resp.Content = append(resp.Content, wireContent{Text: text})
		case *mcpsdk.ImageContent:
			resp.Content = append(resp.Content, wireContent{Image: "[base64 image omitted from log, " + fmt.Sprint(len(v.Data)) + " bytes]"})
		case *mcpsdk.AudioContent:
			resp.Content = append(resp.Content, wireContent{Audio: "[base64 audio omitted from log, " + fmt.Sprint(len(v.Data)) + " bytes]"})
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Shutdown marks the server as draining, waits up to cfg.ShutdownGrace for
// in-flight calls to finish, then returns regardless so the caller can
// force-close listeners.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	graceCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()

	select {
	case <-done:
	case <-graceCtx.Done():
		s.logger.Warn("proxy shutdown grace period elapsed with calls still in flight")
	}
}
