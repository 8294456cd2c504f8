// Package turso replicates to Turso, which speaks SQLite's wire protocol
// and PRAGMA-based introspection; this package is a thin rename over
// drivers/sqlite, per spec §4.1's driver variant list.
package turso

import (
	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/drivers/sqlite"
)

// Config is Turso's configuration, identical in shape to SQLite's.
type Config = sqlite.Config

// Driver is the Turso replicator.
type Driver struct {
	*sqlite.Driver
}

// New constructs a Turso Driver labelled distinctly from plain SQLite in
// GetStatus/events, while reusing SQLite's DDL and write path.
func New(cfg Config, logger replicator.Logger) *Driver {
	return &Driver{Driver: sqlite.New(cfg, logger, "turso")}
}

var _ replicator.Replicator = (*Driver)(nil)
