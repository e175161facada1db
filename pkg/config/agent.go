package config

import "sort"

// AgentFile is the root of agents.yaml.
type AgentFile struct {
	Agents map[string]AgentEntry `yaml:"agents"`
}

// AgentEntry is one agents.yaml entry: the concrete shape of the "catalog
// of specialized agents" the Planner and Plan Executor consult.
type AgentEntry struct {
	Description       string   `yaml:"description"`
	RecommendedModels []string `yaml:"recommended_models,omitempty"`
}

// AgentCatalog is a read-only, thread-safe view over a loaded AgentFile,
// sorted by id for deterministic iteration.
type AgentCatalog struct {
	ids     []string
	entries map[string]AgentEntry
}

// NewAgentCatalog builds a catalog from a loaded agents map. The map is
// copied; later mutation of the input has no effect on the catalog.
func NewAgentCatalog(agents map[string]AgentEntry) *AgentCatalog {
	entries := make(map[string]AgentEntry, len(agents))
	ids := make([]string, 0, len(agents))
	for id, entry := range agents {
		entries[id] = entry
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &AgentCatalog{ids: ids, entries: entries}
}

// Get returns the entry for id, or false if id is not in the catalog.
func (c *AgentCatalog) Get(id string) (AgentEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Has reports whether id is a known agent.
func (c *AgentCatalog) Has(id string) bool {
	_, ok := c.entries[id]
	return ok
}

// IDs returns every agent id, sorted.
func (c *AgentCatalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Len returns the number of agents in the catalog.
func (c *AgentCatalog) Len() int { return len(c.entries) }
