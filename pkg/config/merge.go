package config

import "dario.cat/mergo"

// DefaultPolicyRules is the built-in rule set applied before any
// user-supplied rules from mcp-proxy.toml are merged in.
func DefaultPolicyRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:        "deny-shell-exec-by-default",
			ToolPattern: "shell:*",
			Action:      "ask_user",
			Priority:    0,
			Reason:      "shell execution requires explicit approval",
		},
	}
}

// MergePolicyRules merges user-supplied rules over the built-in default set
// using mergo's map-override semantics: a user rule with the same Name as a
// built-in rule replaces it in place (the built-in's position in the
// returned slice is preserved); every other built-in rule survives
// unchanged, and user rules with no built-in counterpart are appended in
// the order they appeared in the file.
func MergePolicyRules(builtin, user []RuleConfig) ([]RuleConfig, error) {
	base := make(map[string]RuleConfig, len(builtin)+len(user))
	order := make([]string, 0, len(builtin)+len(user))
	for _, r := range builtin {
		base[r.Name] = r
		order = append(order, r.Name)
	}

	overlay := make(map[string]RuleConfig, len(user))
	for _, r := range user {
		overlay[r.Name] = r
		if _, exists := base[r.Name]; !exists {
			order = append(order, r.Name)
		}
	}

	if err := mergo.Merge(&base, overlay, mergo.WithOverride); err != nil {
		return nil, err
	}

	result := make([]RuleConfig, 0, len(order))
	for _, name := range order {
		result = append(result, base[name])
	}
	return result, nil
}
