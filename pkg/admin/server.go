// Package admin wires the ambient HTTP surface that sits alongside the MCP
// proxy: health aggregation and cost reporting for operators.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/swarmgate/pkg/cost"
	"github.com/codeready-toolchain/swarmgate/pkg/model"
	"github.com/codeready-toolchain/swarmgate/pkg/proxy"
	"github.com/codeready-toolchain/swarmgate/pkg/queue"
	"github.com/codeready-toolchain/swarmgate/pkg/upstream"
)

// Deps collects the components /healthz and /costs report on. Proxy and
// Health may be nil in tests that only exercise the other routes.
type Deps struct {
	Proxy  *proxy.Server
	Health *upstream.HealthChecker
	Cache  *model.Cache
	Queue  *queue.Queue
	Costs  *cost.Tracker

	// SmartInputPer1M/SmartOutputPer1M price an all-Smart baseline for the
	// /costs savings figure. Zero disables the savings calculation.
	SmartInputPer1M  float64
	SmartOutputPer1M float64
}

// NewRouter builds a gin engine exposing the proxy's wire surface under
// /mcp and the operator-facing /healthz and /costs endpoints.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if deps.Proxy != nil {
		mcp := r.Group("/mcp")
		deps.Proxy.RegisterRoutes(mcp)
	}

	r.GET("/healthz", healthHandler(deps))
	r.GET("/costs", costsHandler(deps))

	return r
}

type upstreamHealth struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
	ToolCount int       `json:"tool_count"`
}

type healthResponse struct {
	Status     string                    `json:"status"`
	Upstreams  map[string]upstreamHealth `json:"upstreams"`
	ModelCache model.Stats               `json:"model_cache"`
	Queue      queueDepth                `json:"queue"`
}

type queueDepth struct {
	Depth     int `json:"depth"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
}

// healthHandler aggregates upstream health, model cache occupancy, and
// queue depth into one JSON document, matching the shape operators expect
// from a /healthz endpoint that fans out to several subsystems.
func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := healthResponse{
			Status:    "healthy",
			Upstreams: map[string]upstreamHealth{},
		}

		if deps.Health != nil {
			for name, st := range deps.Health.Statuses() {
				resp.Upstreams[name] = upstreamHealth{
					Healthy:   st.Healthy,
					LastCheck: st.LastCheck,
					Error:     st.Error,
					ToolCount: st.ToolCount,
				}
				if !st.Healthy {
					resp.Status = "degraded"
				}
			}
		}

		if deps.Cache != nil {
			resp.ModelCache = deps.Cache.Stats()
		}

		if deps.Queue != nil {
			resp.Queue = queueDepth{
				Depth:     deps.Queue.Len(),
				Running:   deps.Queue.RunningCount(),
				Completed: deps.Queue.CompletedCount(),
			}
		}

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}

type costsResponse struct {
	Tiers             map[cost.Tier]cost.TierMetrics `json:"tiers"`
	TotalCost         float64                         `json:"total_cost"`
	TotalTokens       uint64                          `json:"total_tokens"`
	SavingsVsAllSmart *float64                        `json:"savings_vs_all_smart,omitempty"`
}

// costsHandler reports per-tier usage and the savings realized against an
// all-Smart baseline, when a baseline price is configured.
func costsHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Costs == nil {
			c.JSON(http.StatusOK, costsResponse{Tiers: map[cost.Tier]cost.TierMetrics{}})
			return
		}

		metrics := deps.Costs.Metrics()
		resp := costsResponse{
			Tiers:       metrics.Tiers,
			TotalCost:   metrics.TotalCost,
			TotalTokens: metrics.TotalTokens,
		}
		if deps.SmartInputPer1M > 0 || deps.SmartOutputPer1M > 0 {
			savings := metrics.SavingsVsAllSmart(deps.SmartInputPer1M, deps.SmartOutputPer1M)
			resp.SavingsVsAllSmart = &savings
		}
		c.JSON(http.StatusOK, resp)
	}
}

// Server owns the http.Server hosting NewRouter's engine, started and
// stopped alongside the Upstream Pool's health checker and the Rate
// Limiter's pruner so one grace period drains all three.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: NewRouter(deps),
		},
	}
}

// Start runs the server until it errors or Shutdown is called. Always
// returns a non-nil error, per net/http.Server.Serve convention; callers
// should ignore http.ErrServerClosed.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
