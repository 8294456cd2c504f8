// Package mysql implements the MySQL/MariaDB replication driver. PlanetScale
// reuses this driver directly (same wire protocol and DDL surface via
// database/sql), per drivers/planetscale.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/batch"
	"github.com/user/s3db-replicator/pkg/routing"
	"github.com/user/s3db-replicator/pkg/schema"
	"github.com/user/s3db-replicator/pkg/sqlutil"
	"github.com/user/s3db-replicator/pkg/typemap"
)

// Config is the MySQL/MariaDB/PlanetScale driver's configuration.
type Config struct {
	Enabled          bool                       `json:"enabled"`
	BatchConcurrency int                        `json:"batchConcurrency"`
	DSN              string                     `json:"dsn"`
	Routes           map[string]json.RawMessage `json:"routes"`
	LogTable         string                     `json:"logTable"`
	SchemaSync       SchemaSyncConfig           `json:"schemaSync"`
}

// SchemaSyncConfig mirrors spec §6's schemaSync block.
type SchemaSyncConfig struct {
	Enabled           bool   `json:"enabled"`
	Strategy          string `json:"strategy"`
	OnMismatch        string `json:"onMismatch"`
	AutoCreateTable   bool   `json:"autoCreateTable"`
	AutoCreateColumns bool   `json:"autoCreateColumns"`
}

func (s SchemaSyncConfig) toSchemaConfig() schema.Config {
	return schema.Config{
		Enabled: s.Enabled, Strategy: schema.Strategy(s.Strategy), OnMismatch: schema.OnMismatch(s.OnMismatch),
		AutoCreateTable: s.AutoCreateTable, AutoCreateColumns: s.AutoCreateColumns,
	}
}

// Driver is the MySQL/MariaDB/PlanetScale replicator. The database/sql driver
// name is always "mysql"; dialectLabel names the instance in
// GetStatus ("mysql" / "mariadb" / "planetscale").
type Driver struct {
	*base.Base
	cfg          Config
	db           *sql.DB
	dialectLabel string

	routesMu sync.RWMutex
	routes   map[string][]routing.Destination
	verified sync.Map
}

// New constructs a MySQL-family Driver. dialectLabel lets planetscale reuse
// this implementation while reporting its own name.
func New(cfg Config, logger replicator.Logger, dialectLabel string) *Driver {
	if dialectLabel == "" {
		dialectLabel = "mysql"
	}
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency, SchemaSync: cfg.SchemaSync.toSchemaConfig()}
	return &Driver{Base: base.New(dialectLabel, common, logger), cfg: cfg, dialectLabel: dialectLabel}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
	if d.cfg.DSN == "" {
		errs = append(errs, "dsn is required")
	}
	if len(d.cfg.Routes) == 0 {
		errs = append(errs, "at least one resource route is required")
	}
	for resource, raw := range d.cfg.Routes {
		dests, err := routing.Parse(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("route %q: %v", resource, err))
			continue
		}
		for _, dst := range dests {
			if err := dst.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("route %q: %v", resource, err))
			}
		}
	}
	errs = append(errs, d.Config().Validate()...)
	return replicator.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (d *Driver) Initialize(ctx context.Context, source replicator.SourceDB) error {
	d.SetState(replicator.StateInitializing)
	if vr := d.ValidateConfig(); !vr.Valid {
		d.SetState(replicator.StateFailed)
		return replicator.ConfigError("initialize", "", strings.Join(vr.Errors, "; "), fmt.Errorf("invalid configuration"))
	}

	routes := make(map[string][]routing.Destination, len(d.cfg.Routes))
	for resource, raw := range d.cfg.Routes {
		dests, err := routing.Parse(raw)
		if err != nil {
			d.SetState(replicator.StateFailed)
			return replicator.ConfigError("initialize", resource, "fix the route configuration", err)
		}
		routes[resource] = dests
	}
	d.routesMu.Lock()
	d.routes = routes
	d.routesMu.Unlock()

	db, err := sql.Open("mysql", d.cfg.DSN)
	if err != nil {
		d.SetState(replicator.StateFailed)
		return replicator.ConfigError("initialize", "", "check dsn syntax", err)
	}
	d.db = db

	if err := d.db.PingContext(ctx); err != nil {
		d.db.Close()
		d.SetState(replicator.StateFailed)
		return replicator.ConnectivityError("initialize", "", "verify the database accepts connections", err)
	}

	if d.cfg.SchemaSync.Enabled {
		for resource, dests := range routes {
			res, ok := source.Resource(resource)
			if !ok {
				continue
			}
			attrs := resourceAttributes(res)
			for _, dst := range dests {
				if _, err := schema.Sync(ctx, typemap.MySQL, d.introspector(), d.execDDLExecutor(), d.Logger(), dst.Target, attrs, "", d.cfg.SchemaSync.toSchemaConfig()); err != nil {
					d.db.Close()
					d.SetState(replicator.StateFailed)
					return replicator.SchemaMismatchError("initialize", resource, "fix the destination schema or adjust schemaSync policy", err)
				}
				d.verified.Store(dst.Target, struct{}{})
			}
		}
	}

	d.SetState(replicator.StateReady)
	d.Emit("initialized", nil)
	return nil
}

func resourceAttributes(res replicator.Resource) []schema.Attribute {
	rs := res.Schema()
	attrs := make([]schema.Attribute, 0, len(rs.Attributes))
	for _, a := range rs.Attributes {
		if rs.IsPluginAttribute(a.Name) {
			continue
		}
		attrs = append(attrs, schema.Attribute{Name: a.Name, Type: a.Spec.FieldType()})
	}
	return attrs
}

type introspector struct{ d *Driver }

func (i introspector) Columns(ctx context.Context, table string) (map[string]schema.ColumnInfo, bool, error) {
	var count int
	if err := i.d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = ?", table).Scan(&count); err != nil {
		return nil, false, err
	}
	if count == 0 {
		return nil, false, nil
	}
	rows, err := i.d.db.QueryContext(ctx, "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = ?", table)
	if err != nil {
		return nil, true, err
	}
	defer rows.Close()

	cols := map[string]schema.ColumnInfo{}
	for rows.Next() {
		var name, dtype, nullable string
		if err := rows.Scan(&name, &dtype, &nullable); err != nil {
			return nil, true, err
		}
		cols[name] = schema.ColumnInfo{Type: dtype, Nullable: nullable == "YES"}
	}
	return cols, true, nil
}

type execDDL struct{ d *Driver }

func (e execDDL) ExecDDL(ctx context.Context, stmt string) error {
	_, err := e.d.db.ExecContext(ctx, stmt)
	return err
}

func (d *Driver) introspector() schema.Introspector { return introspector{d} }
func (d *Driver) execDDLExecutor() schema.DDLExecutor { return execDDL{d} }

func (d *Driver) ensureTable(ctx context.Context, table string, attrs []schema.Attribute) error {
	if _, ok := d.verified.Load(table); ok {
		return nil
	}
	if _, err := schema.Sync(ctx, typemap.MySQL, d.introspector(), d.execDDLExecutor(), d.Logger(), table, attrs, "", d.cfg.SchemaSync.toSchemaConfig()); err != nil {
		return err
	}
	d.verified.Store(table, struct{}{})
	return nil
}

func (d *Driver) Replicate(ctx context.Context, resource string, op replicator.Operation, data map[string]any, id string, before map[string]any) (*replicator.ReplicateResult, error) {
	if err := d.RequireReady("replicate", resource); err != nil {
		return nil, err
	}
	d.routesMu.RLock()
	dests, routed := d.routes[resource]
	d.routesMu.RUnlock()
	if !routed {
		return &replicator.ReplicateResult{Skipped: true, Reason: "resource not routed"}, nil
	}

	result := &replicator.ReplicateResult{Success: true}
	attempted := false
	for _, dst := range dests {
		if !dst.Allows(string(op)) {
			result.Results = append(result.Results, replicator.DestinationResult{Target: dst.Target, Skipped: true, Reason: "action not allowed for this route"})
			continue
		}
		attempted = true
		payload, err := routing.Apply(dst, data, false)
		if err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err)
			result.Results = append(result.Results, replicator.DestinationResult{Target: dst.Target, Success: false, Err: err})
			continue
		}
		payload["id"] = id

		if err := d.writeOne(ctx, dst.Target, op, id, payload); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err)
			result.Results = append(result.Results, replicator.DestinationResult{Target: dst.Target, Success: false, Err: err})
			continue
		}
		result.Tables = append(result.Tables, dst.Target)
		result.Results = append(result.Results, replicator.DestinationResult{Target: dst.Target, Success: true})
	}
	if !attempted && len(result.Results) > 0 {
		result.Skipped = true
		result.Reason = "operation not in any route's allowedActions"
	}
	if result.Success {
		d.Emit("replicated", map[string]any{"resource": resource})
	} else {
		d.Emit("replicator_error", map[string]any{"resource": resource})
	}
	return result, nil
}

func (d *Driver) writeOne(ctx context.Context, table string, op replicator.Operation, id string, payload map[string]any) error {
	attrs := attrsFromPayload(payload)
	if err := d.ensureTable(ctx, table, attrs); err != nil {
		return fmt.Errorf("ensure table %s: %w", table, err)
	}
	quoted, err := sqlutil.QuoteIdent(typemap.MySQL, table)
	if err != nil {
		return err
	}

	switch op {
	case replicator.OpDelete:
		_, err := d.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoted), id)
		return err
	default:
		cols, placeholders, args := insertColumns(payload)
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
			quoted, strings.Join(cols, ", "), strings.Join(placeholders, ", "), updateSet(cols))
		if _, err := d.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		if d.cfg.LogTable != "" {
			d.writeLogRow(ctx, table, op, id, payload)
		}
		return nil
	}
}

func attrsFromPayload(payload map[string]any) []schema.Attribute {
	attrs := make([]schema.Attribute, 0, len(payload))
	for k := range payload {
		if k == "id" {
			continue
		}
		attrs = append(attrs, schema.Attribute{Name: k, Type: typemap.ParseFieldType("string")})
	}
	return attrs
}

func insertColumns(payload map[string]any) (cols, placeholders []string, args []any) {
	for k, v := range payload {
		q, _ := sqlutil.QuoteIdent(typemap.MySQL, k)
		cols = append(cols, q)
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}
	return
}

func updateSet(cols []string) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s = VALUES(%s)", c, c))
	}
	return strings.Join(parts, ", ")
}

func (d *Driver) writeLogRow(ctx context.Context, resource string, op replicator.Operation, id string, data map[string]any) {
	serialized, err := json.Marshal(data)
	if err != nil {
		return
	}
	quoted, err := sqlutil.QuoteIdent(typemap.MySQL, d.cfg.LogTable)
	if err != nil {
		return
	}
	_, _ = d.db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (resource_name, operation, record_id, data, timestamp, source) VALUES (?,?,?,?,?,?)", quoted),
		resource, string(op), id, string(serialized), time.Now().UTC(), "s3db-replicator")
}

func (d *Driver) ReplicateBatch(ctx context.Context, resource string, records []replicator.Record) (*replicator.BatchResult, error) {
	if err := d.RequireReady("replicateBatch", resource); err != nil {
		return nil, err
	}
	pooled := batch.Run(records, d.Concurrency(), func(rec replicator.Record) (replicator.ReplicateResult, error) {
		res, err := d.Replicate(ctx, resource, rec.Operation, rec.Data, rec.ID, rec.Before)
		if err != nil {
			return replicator.ReplicateResult{}, err
		}
		return *res, nil
	}, func(err error, rec replicator.Record) error {
		return fmt.Errorf("record %s: %w", rec.ID, err)
	})

	out := &replicator.BatchResult{Total: len(records), Results: pooled.Results, Errors: pooled.Errors}
	for _, res := range pooled.Results {
		if res.Success || res.Skipped {
			out.Successful++
		}
	}
	out.Success = len(out.Errors) == 0
	return out, nil
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	if d.db == nil {
		return false
	}
	if err := d.db.PingContext(ctx); err != nil {
		d.Emit("connection_error", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func (d *Driver) GetStatus() replicator.ReplicatorStatus {
	resources := make([]string, 0)
	d.routesMu.RLock()
	for r := range d.routes {
		resources = append(resources, r)
	}
	d.routesMu.RUnlock()
	status := d.Status(d.db != nil, resources)
	status.Extra["dialect"] = d.dialectLabel
	return status
}

func (d *Driver) Cleanup(ctx context.Context) error {
	if d.db != nil {
		d.db.Close()
		d.db = nil
	}
	d.SetState(replicator.StateClosed)
	return nil
}

func (d *Driver) ShouldReplicateResource(resource string, op *replicator.Operation) bool {
	d.routesMu.RLock()
	dests, ok := d.routes[resource]
	d.routesMu.RUnlock()
	if !ok {
		return false
	}
	if op == nil {
		return true
	}
	for _, dst := range dests {
		if dst.Allows(string(*op)) {
			return true
		}
	}
	return false
}

var _ replicator.Replicator = (*Driver)(nil)
