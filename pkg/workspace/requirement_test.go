package workspace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirementID_ParseAndFormat(t *testing.T) {
	id, err := ParseRequirementID("REQ-042")
	require.NoError(t, err)
	assert.Equal(t, "REQ-042", id.String())
	assert.Equal(t, 42, id.Number())
}

func TestRequirementID_ParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"REQ-1", "req-001", "REQ-abc", "REQ001", "REQ-001x"} {
		_, err := ParseRequirementID(s)
		assert.Error(t, err, s)
	}
}

func TestRequirementID_NewPadsToMinimumWidth(t *testing.T) {
	assert.Equal(t, "REQ-007", NewRequirementID(7).String())
	assert.Equal(t, "REQ-1234", NewRequirementID(1234).String())
}

func TestRequirementID_JSONRoundTrip(t *testing.T) {
	id := NewRequirementID(13)
	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.JSONEq(t, `"REQ-013"`, string(data))

	var decoded RequirementID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)
}

func TestRequirementID_JSONUnmarshalRejectsMalformed(t *testing.T) {
	var decoded RequirementID
	err := json.Unmarshal([]byte(`"not-a-req-id"`), &decoded)
	assert.Error(t, err)
}
