package dynamodb

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
	assert.Contains(t, vr.Errors, "region is required")
	assert.Contains(t, vr.Errors, "at least one resource route is required")
}

func TestShouldReplicateResourceNoRouteIsFalse(t *testing.T) {
	d := New(Config{Region: "us-east-1"}, nil)
	assert.False(t, d.ShouldReplicateResource("orders", nil))
}

func TestReplicateBeforeReadyIsNotReady(t *testing.T) {
	d := New(Config{Region: "us-east-1"}, nil)
	_, err := d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "1"}, "1", nil)
	assert.Error(t, err)
	assert.True(t, replicator.IsRetriable(err))
}

func TestToAttributeValueScalarKinds(t *testing.T) {
	assert.NotNil(t, toAttributeValue("x"))
	assert.NotNil(t, toAttributeValue(3.5))
	assert.NotNil(t, toAttributeValue(true))
	assert.NotNil(t, toAttributeValue(nil))
}

func TestGetStatusReportsRegion(t *testing.T) {
	d := New(Config{Region: "eu-west-1"}, nil)
	status := d.GetStatus()
	assert.Equal(t, "eu-west-1", status.Extra["region"])
}
