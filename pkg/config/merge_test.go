package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePolicyRules_UserOverridesBuiltinByName(t *testing.T) {
	builtin := []RuleConfig{
		{Name: "deny-shell-exec-by-default", ToolPattern: "shell:*", Action: "ask_user"},
		{Name: "keep-me", ToolPattern: "read_*", Action: "allow"},
	}
	user := []RuleConfig{
		{Name: "deny-shell-exec-by-default", ToolPattern: "shell:*", Action: "deny", Reason: "tightened by user"},
	}

	merged, err := MergePolicyRules(builtin, user)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "deny", merged[0].Action)
	assert.Equal(t, "tightened by user", merged[0].Reason)
	assert.Equal(t, "keep-me", merged[1].Name)
}

func TestMergePolicyRules_UserRuleWithNoBuiltinCounterpartIsAppended(t *testing.T) {
	builtin := []RuleConfig{{Name: "builtin-only", Action: "allow"}}
	user := []RuleConfig{{Name: "new-rule", Action: "deny"}}

	merged, err := MergePolicyRules(builtin, user)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "builtin-only", merged[0].Name)
	assert.Equal(t, "new-rule", merged[1].Name)
}

func TestMergePolicyRules_EmptyUserLeavesBuiltinIntact(t *testing.T) {
	builtin := DefaultPolicyRules()
	merged, err := MergePolicyRules(builtin, nil)
	require.NoError(t, err)
	assert.Equal(t, builtin, merged)
}
