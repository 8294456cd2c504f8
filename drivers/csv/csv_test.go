package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
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

func TestReplicateWritesHeaderThenRows(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	_, err := d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "1", "total": 9.5}, "1", nil)
	require.NoError(t, err)
	_, err = d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "2", "total": 3}, "2", nil)
	require.NoError(t, err)

	path := filepath.Join(dir, "orders.csv")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total"}, rows[0])
	assert.Equal(t, 3, len(rows))
}

func TestDeleteIsSkippedWithReason(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	res, err := d.Replicate(context.Background(), "orders", replicator.OpDelete, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.NotEmpty(t, res.Reason)
}
