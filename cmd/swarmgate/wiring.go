package main

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/codeready-toolchain/swarmgate/pkg/catalog"
	"github.com/codeready-toolchain/swarmgate/pkg/config"
	"github.com/codeready-toolchain/swarmgate/pkg/model"
	"github.com/codeready-toolchain/swarmgate/pkg/orchestrate"
	"github.com/codeready-toolchain/swarmgate/pkg/policy"
	"github.com/codeready-toolchain/swarmgate/pkg/upstream"
)

// unconfiguredProviderError is returned by a cache miss when no real model
// provider has been wired in. The HTTP/admin and MCP proxy surfaces still
// run without one; only agent-driven orchestration needs it resolved.
type unconfiguredProviderError struct {
	ProviderKind string
	ModelID      string
}

func (e *unconfiguredProviderError) Error() string {
	return fmt.Sprintf("no model provider configured for %s/%s; set SWARMGATE_MODEL_PROVIDER and wire a client factory", e.ProviderKind, e.ModelID)
}

func unconfiguredFactory(providerKind, modelID string) model.Factory {
	return func(context.Context) (orchestrate.Model, error) {
		return nil, &unconfiguredProviderError{ProviderKind: providerKind, ModelID: modelID}
	}
}

// cachedModelProvider implements plan.ModelProvider over the model cache,
// resolving an agent id's recommended model from the agent catalog and
// falling back to a default model id when the agent names none.
type cachedModelProvider struct {
	cache        *model.Cache
	agents       *config.AgentCatalog
	providerKind string
	apiKey       string
}

func (p *cachedModelProvider) Model(ctx context.Context, agentID string) (orchestrate.Model, error) {
	modelID := "default"
	if entry, ok := p.agents.Get(agentID); ok && len(entry.RecommendedModels) > 0 {
		modelID = entry.RecommendedModels[0]
	}
	key := model.Key{
		ProviderKind: p.providerKind,
		ModelID:      modelID,
		Fingerprint:  model.Fingerprint(p.apiKey),
	}
	return p.cache.GetOrCreate(ctx, key, unconfiguredFactory(p.providerKind, modelID))
}

// convertUpstreams maps the on-disk [[proxy.upstreams]] shape onto the pool's
// Config, inferring TransportConfig fields from the declared transport kind.
func convertUpstreams(entries []config.UpstreamConfig) []upstream.Config {
	out := make([]upstream.Config, 0, len(entries))
	for _, e := range entries {
		out = append(out, upstream.Config{
			Name: e.Name,
			Transport: upstream.TransportConfig{
				Type:    upstream.TransportKind(e.Transport),
				Command: e.Command,
				Args:    e.Args,
				URL:     e.URL,
			},
			Priority:            e.Priority,
			HealthCheckInterval: e.HealthCheckInterval.Duration(),
			Tools:               e.Tools,
		})
	}
	return out
}

func convertCatalogStrategy(s string) catalog.ConflictStrategy {
	switch catalog.ConflictStrategy(s) {
	case catalog.Reject, catalog.PriorityOverride:
		return catalog.ConflictStrategy(s)
	default:
		return catalog.AutoPrefix
	}
}

// convertPolicyRules maps on-disk rule entries onto policy.Rule, compiling
// each optional arg_pattern eagerly so a malformed regex is reported at
// startup rather than on the first matching call.
func convertPolicyRules(entries []config.RuleConfig) ([]policy.Rule, error) {
	out := make([]policy.Rule, 0, len(entries))
	for _, e := range entries {
		rule := policy.Rule{
			Name:        e.Name,
			ToolPattern: e.ToolPattern,
			Action:      policy.Action(e.Action),
			Priority:    policy.Priority(e.Priority),
			Reason:      e.Reason,
		}
		if e.ArgPattern != "" {
			re, err := regexp.Compile(e.ArgPattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: compile arg_pattern: %w", e.Name, err)
			}
			rule.ArgPattern = re
		}
		out = append(out, rule)
	}
	return out, nil
}

func defaultModelCacheConfig() model.Config {
	return model.Config{MaxCacheSize: 128, IdleTTL: 30 * time.Minute}
}
