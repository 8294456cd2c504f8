package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/routing"
)

func TestValidateConfigCollectsErrors(t *testing.T) {
	d := New(Config{}, nil)
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "connString is required")
	assert.Contains(t, vr.Errors, "at least one resource route is required")
}

func TestValidateConfigRejectsBadAction(t *testing.T) {
	d := New(Config{
		ConnString: "postgres://x",
		Routes:     map[string]json.RawMessage{"users": json.RawMessage(`{"table":"t","allowedActions":["truncate"]}`)},
	}, nil)
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
}

func TestShouldReplicateResourceNoRouteIsFalse(t *testing.T) {
	d := New(Config{}, nil)
	d.routes = map[string][]routing.Destination{}
	assert.False(t, d.ShouldReplicateResource("users", nil))
}

func TestReplicateBeforeReadyIsNotReady(t *testing.T) {
	d := New(Config{}, nil)
	_, err := d.Replicate(context.Background(), "users", replicator.OpInsert, nil, "u1", nil)
	assert.Error(t, err)
	assert.True(t, replicator.IsRetriable(err))
}
