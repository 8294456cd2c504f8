package routing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringForm(t *testing.T) {
	dests, err := Parse(json.RawMessage(`"users_table"`))
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, "users_table", dests[0].Target)
	assert.True(t, dests[0].Allows("insert"))
	assert.False(t, dests[0].Allows("update"))
}

func TestParseArrayOfStrings(t *testing.T) {
	dests, err := Parse(json.RawMessage(`["users_backup", "users_audit"]`))
	require.NoError(t, err)
	require.Len(t, dests, 2)
	assert.Equal(t, "users_backup", dests[0].Target)
	assert.Equal(t, "users_audit", dests[1].Target)
}

func TestParseStructForm(t *testing.T) {
	dests, err := Parse(json.RawMessage(`{"table":"events_table","allowedActions":["insert","update"]}`))
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, "events_table", dests[0].Target)
	assert.True(t, dests[0].Allows("insert"))
	assert.True(t, dests[0].Allows("update"))
	assert.False(t, dests[0].Allows("delete"))
}

func TestParseArrayMixedStringsAndStructs(t *testing.T) {
	dests, err := Parse(json.RawMessage(`["users_backup", {"collection":"users_audit","allowedActions":["insert"]}]`))
	require.NoError(t, err)
	require.Len(t, dests, 2)
	assert.Equal(t, "users_backup", dests[0].Target)
	assert.Equal(t, "users_audit", dests[1].Target)
}

func TestParseRejectsMissingTarget(t *testing.T) {
	_, err := Parse(json.RawMessage(`{"allowedActions":["insert"]}`))
	assert.Error(t, err)
}

func TestValidateRejectsInvalidAction(t *testing.T) {
	dests, err := Parse(json.RawMessage(`{"table":"t","allowedActions":["insert"]}`))
	require.NoError(t, err)
	require.NoError(t, dests[0].Validate())

	bad := Destination{Target: "t", AllowedActions: map[string]struct{}{"truncate": {}}}
	assert.Error(t, bad.Validate())
}

func TestDynamoDefaultPrimaryKey(t *testing.T) {
	dests, err := Parse(json.RawMessage(`{"table":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, "id", dests[0].PrimaryKey)
}

func TestCleanInternalStripsDollarAndUnderscore(t *testing.T) {
	data := map[string]any{"name": "Ada", "$meta": 1, "_plugin": 2, "age": 37}
	cleaned := CleanInternal(data, false)
	assert.Equal(t, map[string]any{"name": "Ada", "age": 37}, cleaned)
}

func TestCleanInternalKeepsMongoID(t *testing.T) {
	data := map[string]any{"_id": "u1", "_internal": "x", "name": "Ada"}
	cleaned := CleanInternal(data, true)
	assert.Equal(t, map[string]any{"_id": "u1", "name": "Ada"}, cleaned)
}

func TestApplyRunsTransformThenCleans(t *testing.T) {
	d := NewTransformRoute("users_audit", func(data map[string]any) (map[string]any, error) {
		out := map[string]any{}
		for k, v := range data {
			out[k] = v
		}
		out["ts"] = "now"
		return out, nil
	})
	out, err := Apply(d, map[string]any{"id": "u9", "name": "Linus", "_plugin": "x"}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "u9", "name": "Linus", "ts": "now"}, out)
}
