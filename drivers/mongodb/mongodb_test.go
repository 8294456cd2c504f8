package mongodb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	replicator "github.com/user/s3db-replicator"
)

func TestValidateConfigCollectsErrors(t *testing.T) {
	d := New(Config{}, nil)
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "uri is required")
	assert.Contains(t, vr.Errors, "database is required")
	assert.Contains(t, vr.Errors, "at least one resource route is required")
}

func TestShouldReplicateResourceNoRouteIsFalse(t *testing.T) {
	d := New(Config{URI: "mongodb://localhost", Database: "db"}, nil)
	assert.False(t, d.ShouldReplicateResource("orders", nil))
}

func TestReplicateBeforeReadyIsNotReady(t *testing.T) {
	d := New(Config{URI: "mongodb://localhost", Database: "db"}, nil)
	_, err := d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "1"}, "1", nil)
	assert.Error(t, err)
	assert.True(t, replicator.IsRetriable(err))
}

func TestGetStatusReportsDatabase(t *testing.T) {
	d := New(Config{URI: "mongodb://localhost", Database: "mydb"}, nil)
	status := d.GetStatus()
	assert.Equal(t, "mydb", status.Extra["database"])
	assert.False(t, status.Connected)
}
