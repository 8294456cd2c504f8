// Package planetscale replicates to PlanetScale, which speaks the MySQL
// wire protocol and DDL surface; this package is a thin rename over
// drivers/mysql, per spec §4.1's driver variant list.
package planetscale

import (
	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/drivers/mysql"
)

// Config is PlanetScale's configuration, identical in shape to MySQL's.
type Config = mysql.Config

// Driver is the PlanetScale replicator.
type Driver struct {
	*mysql.Driver
}

// New constructs a PlanetScale Driver labelled distinctly from plain MySQL
// in GetStatus/events, while reusing the MySQL driver's DDL and write path.
func New(cfg Config, logger replicator.Logger) *Driver {
	return &Driver{Driver: mysql.New(cfg, logger, "planetscale")}
}

var _ replicator.Replicator = (*Driver)(nil)
