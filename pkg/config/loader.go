package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads, expands, merges, and validates mcp-proxy.toml at path.
// Environment references (${VAR}) are expanded in the raw text before TOML
// parsing, mirroring the teacher's ExpandEnv-before-parse ordering. Policy
// rules are merged over the built-in default set before validation so that
// cross-reference checks see the final rule set, not the file's raw one.
func Load(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{File: path, Err: ErrConfigNotFound}
		}
		return nil, &LoadError{File: path, Err: err}
	}

	expanded := ExpandEnv(raw)

	var cfg FileConfig
	if _, err := toml.Decode(string(expanded), &cfg); err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("parse TOML: %w", err)}
	}

	merged, err := MergePolicyRules(DefaultPolicyRules(), cfg.Policy.Rules)
	if err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("merge policy rules: %w", err)}
	}
	cfg.Policy.Rules = merged

	if cfg.Policy.ApprovalMode == "" {
		cfg.Policy.ApprovalMode = "auto"
	}
	if cfg.Proxy.Catalog.Strategy == "" {
		cfg.Proxy.Catalog.Strategy = "auto_prefix"
	}

	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{File: path, Err: err}
	}

	return &cfg, nil
}

// LoadAgentCatalog reads and parses agents.yaml at path into an AgentCatalog.
func LoadAgentCatalog(path string) (*AgentCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{File: path, Err: ErrConfigNotFound}
		}
		return nil, &LoadError{File: path, Err: err}
	}

	var file AgentFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("parse YAML: %w", err)}
	}

	return NewAgentCatalog(file.Agents), nil
}
