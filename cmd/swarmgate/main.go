// Command swarmgate runs the workspace-bound agent orchestration engine: an
// MCP proxy aggregating upstream tool servers, a policy-gated orchestration
// loop driving planner-generated manifests to completion, and an admin HTTP
// surface for health and cost reporting.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/swarmgate/pkg/admin"
	"github.com/codeready-toolchain/swarmgate/pkg/catalog"
	"github.com/codeready-toolchain/swarmgate/pkg/codeblock"
	"github.com/codeready-toolchain/swarmgate/pkg/config"
	"github.com/codeready-toolchain/swarmgate/pkg/cost"
	"github.com/codeready-toolchain/swarmgate/pkg/fileops"
	"github.com/codeready-toolchain/swarmgate/pkg/memory"
	"github.com/codeready-toolchain/swarmgate/pkg/model"
	"github.com/codeready-toolchain/swarmgate/pkg/orchestrate"
	"github.com/codeready-toolchain/swarmgate/pkg/plan"
	"github.com/codeready-toolchain/swarmgate/pkg/planner"
	"github.com/codeready-toolchain/swarmgate/pkg/policy"
	"github.com/codeready-toolchain/swarmgate/pkg/proxy"
	"github.com/codeready-toolchain/swarmgate/pkg/queue"
	"github.com/codeready-toolchain/swarmgate/pkg/ratelimit"
	"github.com/codeready-toolchain/swarmgate/pkg/secret"
	"github.com/codeready-toolchain/swarmgate/pkg/tool"
	"github.com/codeready-toolchain/swarmgate/pkg/upstream"
	"github.com/codeready-toolchain/swarmgate/pkg/workspace"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	workspaceRoot := flag.String("workspace", getEnv("SWARMGATE_WORKSPACE", ""),
		"workspace root (defaults to discovering .swarmgate upward from the cwd)")
	adminAddr := flag.String("admin-addr", getEnv("SWARMGATE_ADMIN_ADDR", ":8080"),
		"address the admin HTTP surface listens on")
	createWorkspace := flag.Bool("init", false, "create the workspace marker directory if missing")
	manifestPath := flag.String("manifest", "", "enqueue this manifest for execution at startup")
	resume := flag.Bool("resume", false, "resume the given manifest instead of starting it fresh")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := discoverOrCreateWorkspace(*workspaceRoot, *createWorkspace)
	if err != nil {
		log.Fatalf("resolve workspace: %v", err)
	}
	if err := ws.EnsureStructure(); err != nil {
		log.Fatalf("ensure workspace structure: %v", err)
	}
	logger.Info("workspace resolved", "root", ws.Root())

	cfg, err := config.Load(ws.ProxyConfigFile())
	if err != nil {
		log.Fatalf("load proxy config: %v", err)
	}
	agents, err := config.LoadAgentCatalog(ws.MarkerDir() + "/agents.yaml")
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		log.Fatalf("load agent catalog: %v", err)
	}
	if agents == nil {
		agents = config.NewAgentCatalog(nil)
	}

	redactor := secret.New(secret.Config{
		RedactPatterns: cfg.Proxy.Security.RedactPatterns,
		Sources: map[string]secret.Source{
			"env": secret.NewEnvSource("SWARMGATE_SECRET_", os.LookupEnv),
		},
	})

	limiter := ratelimit.New(cfg.Proxy.Security.RateLimitPerMinute)
	pruneCtx, pruneStop := context.WithCancel(ctx)
	defer pruneStop()
	go limiter.RunPruner(pruneCtx, time.Minute)

	pool := upstream.NewPool()
	for _, u := range convertUpstreams(cfg.Proxy.Upstreams) {
		if err := pool.AddUpstream(ctx, u); err != nil {
			logger.Error("failed to connect upstream", "name", u.Name, "error", err)
		}
	}
	health := upstream.NewHealthChecker(pool, 30*time.Second)
	health.Start(ctx)
	defer health.Stop()

	cat := catalog.New(catalog.Config{
		Strategy:   convertCatalogStrategy(cfg.Proxy.Catalog.Strategy),
		Priorities: cfg.Proxy.Catalog.Priorities,
	})
	cat.Rebuild(ctx, pool)

	rules, err := convertPolicyRules(cfg.Policy.Rules)
	if err != nil {
		log.Fatalf("convert policy rules: %v", err)
	}
	analyticsSink, closeSink := buildAnalyticsSink(ctx, logger)
	if closeSink != nil {
		defer closeSink()
	}
	policyEngine := policy.New(rules, policy.ApprovalMode(cfg.Policy.ApprovalMode), analyticsSink)

	proxyServer := proxy.NewServer(pool, cat, policyEngine, limiter, redactor, proxy.Config{
		ShutdownGrace: 10 * time.Second,
	})

	if watcher, err := config.NewWatcher(ws.ProxyConfigFile()); err != nil {
		logger.Error("config watcher disabled", "error", err)
	} else {
		go func() {
			defer watcher.Close()
			watcher.Run(ctx, logger, func(fresh *config.FileConfig) {
				newRules, err := convertPolicyRules(fresh.Policy.Rules)
				if err != nil {
					logger.Error("reloaded policy rules invalid, keeping previous rule set", "error", err)
					return
				}
				policyEngine.SetRules(newRules)
				logger.Info("policy rules reloaded", "count", len(newRules))
			})
		}()
	}

	modelCache, err := model.New(defaultModelCacheConfig())
	if err != nil {
		log.Fatalf("init model cache: %v", err)
	}
	costTracker := cost.New()

	execQueue := queue.New()

	memStore, err := memory.Open(ws.InternalsDir())
	if err != nil {
		log.Fatalf("open memory store: %v", err)
	}

	validator, err := workspace.NewBoundaryValidator(ws)
	if err != nil {
		log.Fatalf("init boundary validator: %v", err)
	}
	ops := fileops.New(validator)

	registry := tool.NewRegistry()
	if err := tool.RegisterFileTools(registry, ops); err != nil {
		log.Fatalf("register file tools: %v", err)
	}
	dispatcher := tool.NewDispatcher(registry)

	modelProvider := &cachedModelProvider{
		cache:        modelCache,
		agents:       agents,
		providerKind: getEnv("SWARMGATE_MODEL_PROVIDER", "unconfigured"),
		apiKey:       os.Getenv("SWARMGATE_MODEL_API_KEY"),
	}

	defaultModel, err := modelProvider.Model(ctx, "")
	if err != nil {
		logger.Warn("no default model provider wired; planning will fail until one is configured", "error", err)
	}
	agentPlanner := planner.New(defaultModel, agents)

	loopConfig := orchestrate.Config{}
	executor := plan.New(modelProvider, memStore, dispatcher, policyEngine, registry.List(), loopConfig,
		func(percent int) { logger.Info("plan progress", "percent", percent) })

	runRequests := make(chan planRunRequest, 16)
	go runWorker(ctx, execQueue, runRequests, executor, ws, logger)
	_ = agentPlanner // decomposition is triggered by the plan CLI, not this process

	if *manifestPath != "" {
		mode := plan.Continuous()
		runRequests <- planRunRequest{
			taskID:       "startup-" + *manifestPath,
			workflowID:   uuid.NewString(),
			manifestPath: *manifestPath,
			opts:         plan.Options{Resume: *resume, Mode: mode},
		}
	}

	adminServer := admin.NewServer(*adminAddr, admin.Deps{
		Proxy:  proxyServer,
		Health: health,
		Cache:  modelCache,
		Queue:  execQueue,
		Costs:  costTracker,
	})
	go func() {
		if err := adminServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server stopped unexpectedly", "error", err)
		}
	}()
	logger.Info("swarmgate started", "admin_addr", *adminAddr)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
	proxyServer.Shutdown(shutdownCtx)
	if err := pool.Close(); err != nil {
		logger.Error("upstream pool close error", "error", err)
	}
}

func discoverOrCreateWorkspace(root string, create bool) (*workspace.Workspace, error) {
	if root != "" {
		if create {
			return workspace.Create(root)
		}
		return workspace.DiscoverWithConfig(workspace.Config{Root: root})
	}
	if create {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return workspace.Create(cwd)
	}
	return workspace.Discover()
}

func buildAnalyticsSink(ctx context.Context, logger *slog.Logger) (policy.AnalyticsSink, func()) {
	dsn := os.Getenv("SWARMGATE_ANALYTICS_DSN")
	if dsn == "" {
		return policy.NoopSink{}, nil
	}
	sink, err := policy.NewPostgresSink(ctx, dsn, policy.PostgresSinkConfig{})
	if err != nil {
		logger.Error("failed to connect policy analytics sink; falling back to noop", "error", err)
		return policy.NoopSink{}, nil
	}
	return sink, func() {
		if err := sink.Close(); err != nil {
			logger.Error("policy analytics sink close error", "error", err)
		}
	}
}

// planRunRequest is one queued whole-manifest execution, matching spec's
// sequential-tasks-within-a-run rule: the queue orders which manifest run
// goes next, never individual tasks inside a run. workflowID is a
// freshly-generated identifier for this run's execution context, doubling as
// the code-block store's session id so every code block an agent emits
// during the run lands in one session directory.
type planRunRequest struct {
	taskID       string
	workflowID   string
	manifestPath string
	opts         plan.Options
}

// runWorker drains the execution queue one plan run at a time. Task ordering
// across runs is the queue's job; ordering within a run belongs to the
// executor alone.
func runWorker(ctx context.Context, q *queue.Queue, requests <-chan planRunRequest, executor *plan.Executor, ws *workspace.Workspace, logger *slog.Logger) {
	pending := map[string]planRunRequest{}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			pending[req.taskID] = req
			q.Enqueue(queue.Task{ID: req.taskID, Priority: 0, Payload: req})
		case <-ticker.C:
			task, ok := q.Dequeue()
			if !ok {
				continue
			}
			req, ok := pending[task.ID]
			if !ok {
				continue
			}
			delete(pending, task.ID)

			var recorder plan.CodeBlockRecorder
			if store, err := codeblock.NewStore(ws.CodeBlocksDir(req.workflowID)); err != nil {
				logger.Error("open code block store failed", "task_id", task.ID, "workflow_id", req.workflowID, "error", err)
			} else {
				recorder = store
			}
			executor.WithCodeBlocks(recorder)

			result, err := executor.Run(ctx, req.manifestPath, req.opts)
			if err != nil {
				logger.Error("plan run failed", "task_id", task.ID, "workflow_id", req.workflowID, "error", err)
			} else {
				logger.Info("plan run finished", "task_id", task.ID, "workflow_id", req.workflowID, "cancelled", result.Cancelled, "outcomes", len(result.Outcomes))
			}
			if err := q.MarkCompleted(task.ID); err != nil {
				logger.Error("mark completed failed", "task_id", task.ID, "error", err)
			}
		}
	}
}
