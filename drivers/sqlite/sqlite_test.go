package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigRequiresPath(t *testing.T) {
	d := New(Config{}, nil, "")
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "path is required")
}

func TestNewDefaultsDialectLabel(t *testing.T) {
	d := New(Config{Path: "x.db"}, nil, "")
	assert.Equal(t, "sqlite", d.Name())
}
