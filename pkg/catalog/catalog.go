// Package catalog aggregates tool definitions advertised by every upstream
// in the pool into a single registered-name namespace, resolving name
// collisions per a configurable strategy.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/swarmgate/pkg/upstream"
)

// ConflictStrategy decides what happens when two upstreams advertise a tool
// under the same name.
type ConflictStrategy string

const (
	// AutoPrefix always registers the tool, prefixing it "<upstream>:<name>"
	// when the bare name is already taken.
	AutoPrefix ConflictStrategy = "auto_prefix"
	// Reject keeps the first upstream to register a name; later ones are dropped.
	Reject ConflictStrategy = "reject"
	// PriorityOverride replaces the incumbent only if the new upstream has a
	// strictly lower priority number (lower wins).
	PriorityOverride ConflictStrategy = "priority_override"
)

// Config configures a Catalog's conflict resolution.
type Config struct {
	Strategy ConflictStrategy

	// Priorities maps upstream name to priority; lower wins under
	// PriorityOverride. Upstreams absent from this map are treated as
	// lowest priority.
	Priorities map[string]int
}

// Catalog is the aggregated, conflict-resolved view of every upstream's
// tools, keyed by the name clients actually call.
type Catalog struct {
	mu sync.RWMutex

	tools     map[string]*mcpsdk.Tool
	sources   map[string]string // registered name -> upstream
	originals map[string]string // registered name -> original tool name

	cfg    Config
	logger *slog.Logger
}

// New builds an empty catalog governed by cfg.
func New(cfg Config) *Catalog {
	if cfg.Priorities == nil {
		cfg.Priorities = map[string]int{}
	}
	return &Catalog{
		tools:     make(map[string]*mcpsdk.Tool),
		sources:   make(map[string]string),
		originals: make(map[string]string),
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// AddTools ingests tools discovered from one upstream, applying the
// configured conflict strategy for any name already registered.
func (c *Catalog) AddTools(upstreamName string, tools []*mcpsdk.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range tools {
		original := t.Name
		registered := c.resolveName(original, upstreamName)

		if !c.shouldRegister(original, upstreamName) {
			continue
		}

		if c.cfg.Strategy == PriorityOverride {
			if existingSource, ok := c.sources[registered]; ok && existingSource != upstreamName {
				delete(c.tools, registered)
				delete(c.sources, registered)
				delete(c.originals, registered)
			}
		}

		entry := t
		if registered != original {
			cp := *t
			cp.Name = registered
			entry = &cp
		}
		c.tools[registered] = entry
		c.sources[registered] = upstreamName
		c.originals[registered] = original
	}
}

func (c *Catalog) resolveName(original, upstreamName string) string {
	switch c.cfg.Strategy {
	case AutoPrefix:
		if _, taken := c.tools[original]; taken {
			return fmt.Sprintf("%s:%s", upstreamName, original)
		}
		return original
	default: // Reject, PriorityOverride: always register under the bare name
		return original
	}
}

func (c *Catalog) shouldRegister(original, upstreamName string) bool {
	switch c.cfg.Strategy {
	case AutoPrefix:
		return true
	case Reject:
		_, taken := c.tools[original]
		return !taken
	case PriorityOverride:
		existingSource, taken := c.sources[original]
		if !taken {
			return true
		}
		existingPriority, ok := c.cfg.Priorities[existingSource]
		if !ok {
			existingPriority = int(^uint(0) >> 1) // max int: unranked loses every tie
		}
		newPriority, ok := c.cfg.Priorities[upstreamName]
		if !ok {
			newPriority = int(^uint(0) >> 1)
		}
		return newPriority < existingPriority
	default:
		return true
	}
}

// Rebuild clears the catalog and re-ingests tool lists from every upstream
// currently in pool. Upstreams that fail discovery are logged and skipped;
// Rebuild itself never fails so one bad upstream can't block startup.
func (c *Catalog) Rebuild(ctx context.Context, pool *upstream.Pool) {
	c.mu.Lock()
	c.tools = make(map[string]*mcpsdk.Tool)
	c.sources = make(map[string]string)
	c.originals = make(map[string]string)
	c.mu.Unlock()

	for _, name := range pool.Names() {
		tools, err := pool.ListTools(ctx, name)
		if err != nil {
			c.logger.Warn("failed to discover tools from upstream", "upstream", name, "error", err)
			continue
		}
		c.AddTools(name, tools)
	}
}

// All returns every registered tool, sorted by registered name.
func (c *Catalog) All() []*mcpsdk.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*mcpsdk.Tool, 0, len(names))
	for _, name := range names {
		out = append(out, c.tools[name])
	}
	return out
}

// Source returns the upstream a registered tool name resolves to.
func (c *Catalog) Source(registeredName string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.sources[registeredName]
	return src, ok
}

// Original returns the tool's name as advertised by its source upstream.
func (c *Catalog) Original(registeredName string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	orig, ok := c.originals[registeredName]
	return orig, ok
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}
