package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/registry"
)

func TestRegisterAllRegistersEveryDriver(t *testing.T) {
	r := registry.New()
	RegisterAll(r, nil)

	want := []string{
		"bigquery", "csv", "dynamodb", "excel", "jsonl", "mongodb",
		"mysql", "parquet", "planetscale", "postgres", "sibling",
		"sqlite", "sqs", "turso", "webhook",
	}
	assert.Equal(t, want, r.Names())
}

func TestRegisterAllBuildsAWorkingDriver(t *testing.T) {
	r := registry.New()
	RegisterAll(r, nil)

	rep, err := r.New("postgres", map[string]any{
		"enabled": true,
		"dsn":     "postgres://localhost/db",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres", rep.Name())
}

func TestRegisterAllUnknownDriverIsConfigError(t *testing.T) {
	r := registry.New()
	RegisterAll(r, nil)

	_, err := r.New("oracle", nil)
	require.Error(t, err)
	kind, ok := replicator.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, replicator.KindConfiguration, kind)
}
