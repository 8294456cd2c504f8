package excel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	replicator "github.com/user/s3db-replicator"
)

func TestValidateConfigRequiresDirectory(t *testing.T) {
	d := New(Config{}, nil)
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "directory is required")
}

func TestFlushesOnChunkThreshold(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, ChunkSize: 2, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	_, err := d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	b := d.bufferFor(d.cfg.Directory + "/orders.xlsx")
	assert.Len(t, b.rows, 1)

	_, err = d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "2"}, "2", nil)
	require.NoError(t, err)
	assert.Len(t, b.rows, 0)
}

func TestDeleteIsSkippedWithReason(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	res, err := d.Replicate(context.Background(), "orders", replicator.OpDelete, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestCleanupFlushesPendingBuffers(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, ChunkSize: 100, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	_, err := d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	require.NoError(t, d.Cleanup(context.Background()))
}
