package parquet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	replicator "github.com/user/s3db-replicator"
)

const testSchema = `{"Tag":"name=parquet-go-root","Fields":[{"Tag":"name=id, type=BYTE_ARRAY, convertedtype=UTF8"}]}`

func TestValidateConfigRequiresDirectoryAndSchema(t *testing.T) {
	d := New(Config{}, nil)
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "directory is required")
	assert.Contains(t, vr.Errors, "schema is required")
}

func TestFlushesOnRowGroupThreshold(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, Schema: testSchema, RowGroupSize: 2, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	_, err := d.Replicate(context.Background(), "events", replicator.OpInsert, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	b := d.bufferFor(d.cfg.Directory + "/events.parquet")
	assert.Len(t, b.records, 1)

	_, err = d.Replicate(context.Background(), "events", replicator.OpInsert, map[string]any{"id": "2"}, "2", nil)
	require.NoError(t, err)
	assert.Len(t, b.records, 0)
}

func TestDeleteIsSkippedWithReason(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, Schema: testSchema, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	res, err := d.Replicate(context.Background(), "events", replicator.OpDelete, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestCleanupFlushesPendingBuffers(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, Schema: testSchema, RowGroupSize: 100, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	_, err := d.Replicate(context.Background(), "events", replicator.OpInsert, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	require.NoError(t, d.Cleanup(context.Background()))
}
