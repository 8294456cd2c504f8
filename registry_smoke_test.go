package replicator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	replicator "github.com/user/s3db-replicator"
)

func TestValidOperation(t *testing.T) {
	assert.True(t, replicator.ValidOperation(replicator.OpInsert))
	assert.True(t, replicator.ValidOperation(replicator.OpUpdate))
	assert.True(t, replicator.ValidOperation(replicator.OpDelete))
	assert.False(t, replicator.ValidOperation("truncate"))
}

func TestCleanPayloadStripsInternalFields(t *testing.T) {
	data := map[string]any{"name": "Ada", "$meta": 1, "_plugin": 2}
	cleaned := replicator.CleanPayload(data)
	assert.Equal(t, map[string]any{"name": "Ada"}, cleaned)
}

func TestNewReplicationErrorUnwraps(t *testing.T) {
	cause := assertErr("boom")
	err := replicator.ConfigError("initialize", "users", "fix config", cause)
	assert.False(t, err.Retriable)
	assert.Equal(t, replicator.KindConfiguration, err.Kind)
	assert.ErrorIs(t, err, cause)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }

func TestIsRetriable(t *testing.T) {
	retriable := replicator.ConnectivityError("probe", "users", "retry", assertErr("down"))
	assert.True(t, replicator.IsRetriable(retriable))

	nonRetriable := replicator.ConfigError("validate", "users", "fix", assertErr("bad"))
	assert.False(t, replicator.IsRetriable(nonRetriable))
}

func TestNotReadyError(t *testing.T) {
	err := replicator.NotReadyError("replicate", "users", replicator.StateCreated)
	assert.True(t, err.Retriable)
	assert.Contains(t, err.Suggestion, "initialize")
}
