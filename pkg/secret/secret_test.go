package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]string

func (m mapSource) Resolve(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func TestRedactor_Inject(t *testing.T) {
	r := New(Config{
		Sources: map[string]Source{"primary": mapSource{"API_KEY": "sk-super-secret"}},
	})

	got, err := r.Inject("Authorization: Bearer ${secret:API_KEY}")
	require.NoError(t, err)
	assert.Equal(t, "Authorization: Bearer sk-super-secret", got)
}

func TestRedactor_InjectUnresolved(t *testing.T) {
	r := New(Config{Sources: map[string]Source{}})

	_, err := r.Inject("token=${secret:MISSING}")
	require.Error(t, err)
	var unresolved *UnresolvedSecretError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "MISSING", unresolved.Name)
}

func TestRedactor_Redact(t *testing.T) {
	r := New(Config{RedactPatterns: []string{`sk-[A-Za-z0-9]+`, `\d{3}-\d{2}-\d{4}`}})

	got := r.Redact("key=sk-abc123 ssn=123-45-6789 plain text")
	assert.Equal(t, "key=[REDACTED] ssn=[REDACTED] plain text", got)
	assert.NotContains(t, got, "sk-abc123")
}

func TestRedactor_RedactSkipsInvalidPattern(t *testing.T) {
	r := New(Config{RedactPatterns: []string{"(unterminated", `secret-\d+`}})
	assert.Equal(t, 1, r.PatternCount())

	got := r.Redact("value=secret-42")
	assert.Equal(t, "value=[REDACTED]", got)
}

func TestRedactor_NoPatternsIsIdentity(t *testing.T) {
	r := New(Config{})
	assert.Equal(t, "unchanged", r.Redact("unchanged"))
}
