package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *FileConfig {
	return &FileConfig{
		Proxy: ProxySection{
			Upstreams: []UpstreamConfig{
				{Name: "fs", Transport: "stdio", Command: "mcp-server-fs"},
				{Name: "web", Transport: "http", URL: "http://localhost:9000"},
			},
			Catalog: CatalogConfig{
				Strategy:   "priority_override",
				Priorities: map[string]int{"fs": 1, "web": 2},
			},
		},
		Policy: PolicySection{
			ApprovalMode: "auto",
			Rules: []RuleConfig{
				{Name: "no-deletes", ToolPattern: "delete_*", Action: "deny"},
			},
		},
	}
}

func TestValidate_WellFormedConfigPasses(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_UnknownTransportIsReported(t *testing.T) {
	cfg := validConfig()
	cfg.Proxy.Upstreams[0].Transport = "carrier-pigeon"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestValidate_StdioWithoutCommandIsReported(t *testing.T) {
	cfg := validConfig()
	cfg.Proxy.Upstreams[0].Command = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")
}

func TestValidate_PriorityReferencingUnknownUpstreamIsReported(t *testing.T) {
	cfg := validConfig()
	cfg.Proxy.Catalog.Priorities["ghost"] = 5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestValidate_InvalidArgPatternRegexIsReported(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.Rules[0].ArgPattern = "(unclosed"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arg_pattern")
}

func TestValidate_UnknownActionIsReported(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.Rules[0].Action = "maybe"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestValidate_AggregatesMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Proxy.Upstreams[0].Transport = "bogus"
	cfg.Policy.Rules[0].Action = "bogus"
	err := cfg.Validate()
	require.Error(t, err)
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 2)
}
