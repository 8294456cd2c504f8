package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
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

func TestReplicateAppendsLineAndDeleteIsSkipped(t *testing.T) {
	dir := t.TempDir()
	d := New(Config{Directory: dir, BatchConcurrency: 5}, nil)
	require.NoError(t, d.Initialize(context.Background(), nil))

	res, err := d.Replicate(context.Background(), "orders", replicator.OpInsert, map[string]any{"id": "1", "total": 9.5}, "1", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res2, err := d.Replicate(context.Background(), "orders", replicator.OpDelete, map[string]any{"id": "1"}, "1", nil)
	require.NoError(t, err)
	assert.True(t, res2.Skipped)

	path := filepath.Join(dir, "orders.jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &obj))
		lines++
	}
	assert.Equal(t, 1, lines)
}
