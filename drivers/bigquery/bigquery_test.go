package bigquery

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
	assert.Contains(t, vr.Errors, "projectId is required")
	assert.Contains(t, vr.Errors, "dataset is required")
	assert.Contains(t, vr.Errors, "at least one resource route is required")
}

func TestValidateConfigRejectsBadMutability(t *testing.T) {
	d := New(Config{ProjectID: "p", Dataset: "d", Mutability: "bogus"}, nil)
	vr := d.ValidateConfig()
	assert.Contains(t, vr.Errors, `invalid mutability "bogus"`)
}

func TestMutabilityDefaultsToAppendOnly(t *testing.T) {
	d := New(Config{}, nil)
	assert.Equal(t, "append-only", string(d.cfg.mutability()))
}

func TestNextVersionMonotonic(t *testing.T) {
	d := New(Config{}, nil)
	assert.EqualValues(t, 1, d.nextVersion("events_table", "e1"))
	assert.EqualValues(t, 2, d.nextVersion("events_table", "e1"))
	assert.EqualValues(t, 1, d.nextVersion("events_table", "e2"))
}

func TestReplicateBeforeReadyIsNotReady(t *testing.T) {
	d := New(Config{ProjectID: "p", Dataset: "d"}, nil)
	_, err := d.Replicate(context.Background(), "events", replicator.OpInsert, map[string]any{"id": "e1"}, "e1", nil)
	assert.Error(t, err)
	assert.True(t, replicator.IsRetriable(err))
}

func TestGetStatusReportsMutabilityAndDataset(t *testing.T) {
	d := New(Config{ProjectID: "p", Dataset: "analytics", Mutability: "immutable"}, nil)
	status := d.GetStatus()
	assert.Equal(t, "analytics", status.Extra["dataset"])
	assert.Equal(t, "immutable", status.Extra["mutability"])
}
