// Package drivers wires every concrete destination driver into a
// pkg/registry.Registry, so the core never needs to import a specific
// driver package directly (spec §2 "Driver Registry").
package drivers

import (
	"encoding/json"
	"fmt"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/drivers/bigquery"
	"github.com/user/s3db-replicator/drivers/csv"
	"github.com/user/s3db-replicator/drivers/dynamodb"
	"github.com/user/s3db-replicator/drivers/excel"
	"github.com/user/s3db-replicator/drivers/jsonl"
	"github.com/user/s3db-replicator/drivers/mongodb"
	"github.com/user/s3db-replicator/drivers/mysql"
	"github.com/user/s3db-replicator/drivers/parquet"
	"github.com/user/s3db-replicator/drivers/planetscale"
	"github.com/user/s3db-replicator/drivers/postgres"
	"github.com/user/s3db-replicator/drivers/sibling"
	"github.com/user/s3db-replicator/drivers/sqlite"
	"github.com/user/s3db-replicator/drivers/sqs"
	"github.com/user/s3db-replicator/drivers/turso"
	"github.com/user/s3db-replicator/drivers/webhook"
	"github.com/user/s3db-replicator/pkg/registry"
)

// decode re-marshals a raw config map into a typed Config struct, so every
// constructor below is a thin "json round-trip then New" adapter.
func decode[T any](raw map[string]any) (T, error) {
	var cfg T
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("marshal driver config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal driver config: %w", err)
	}
	return cfg, nil
}

// RegisterAll registers every built-in driver under its canonical name.
// logger may be nil; each driver falls back to its own default logger.
func RegisterAll(r *registry.Registry, logger replicator.Logger) {
	r.Register("postgres", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[postgres.Config](raw)
		if err != nil {
			return nil, err
		}
		return postgres.New(cfg, logger), nil
	})

	r.Register("mysql", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[mysql.Config](raw)
		if err != nil {
			return nil, err
		}
		return mysql.New(cfg, logger, ""), nil
	})

	r.Register("planetscale", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[planetscale.Config](raw)
		if err != nil {
			return nil, err
		}
		return planetscale.New(cfg, logger), nil
	})

	r.Register("sqlite", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[sqlite.Config](raw)
		if err != nil {
			return nil, err
		}
		return sqlite.New(cfg, logger, ""), nil
	})

	r.Register("turso", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[turso.Config](raw)
		if err != nil {
			return nil, err
		}
		return turso.New(cfg, logger), nil
	})

	r.Register("bigquery", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[bigquery.Config](raw)
		if err != nil {
			return nil, err
		}
		return bigquery.New(cfg, logger), nil
	})

	r.Register("dynamodb", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[dynamodb.Config](raw)
		if err != nil {
			return nil, err
		}
		return dynamodb.New(cfg, logger), nil
	})

	r.Register("mongodb", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[mongodb.Config](raw)
		if err != nil {
			return nil, err
		}
		return mongodb.New(cfg, logger), nil
	})

	r.Register("sibling", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[sibling.Config](raw)
		if err != nil {
			return nil, err
		}
		return sibling.New(cfg, logger), nil
	})

	r.Register("sqs", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[sqs.Config](raw)
		if err != nil {
			return nil, err
		}
		return sqs.New(cfg, logger), nil
	})

	r.Register("webhook", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[webhook.Config](raw)
		if err != nil {
			return nil, err
		}
		return webhook.New(cfg, logger), nil
	})

	r.Register("jsonl", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[jsonl.Config](raw)
		if err != nil {
			return nil, err
		}
		return jsonl.New(cfg, logger), nil
	})

	r.Register("csv", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[csv.Config](raw)
		if err != nil {
			return nil, err
		}
		return csv.New(cfg, logger), nil
	})

	r.Register("parquet", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[parquet.Config](raw)
		if err != nil {
			return nil, err
		}
		return parquet.New(cfg, logger), nil
	})

	r.Register("excel", func(raw map[string]any) (replicator.Replicator, error) {
		cfg, err := decode[excel.Config](raw)
		if err != nil {
			return nil, err
		}
		return excel.New(cfg, logger), nil
	})
}
