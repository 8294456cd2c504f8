package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigRequiresDSN(t *testing.T) {
	d := New(Config{}, nil, "")
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "dsn is required")
}

func TestNewDefaultsDialectLabel(t *testing.T) {
	d := New(Config{DSN: "x"}, nil, "")
	assert.Equal(t, "mysql", d.Name())
}

func TestNewHonorsExplicitDialectLabel(t *testing.T) {
	d := New(Config{DSN: "x"}, nil, "planetscale")
	assert.Equal(t, "planetscale", d.Name())
}
