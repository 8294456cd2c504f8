// Package postgres implements the Postgres replication driver.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/batch"
	"github.com/user/s3db-replicator/pkg/routing"
	"github.com/user/s3db-replicator/pkg/schema"
	"github.com/user/s3db-replicator/pkg/sqlutil"
	"github.com/user/s3db-replicator/pkg/typemap"
)

// Config is the Postgres driver's configuration (spec §6, §4.5).
type Config struct {
	Enabled          bool                       `json:"enabled"`
	BatchConcurrency int                        `json:"batchConcurrency"`
	ConnString       string                     `json:"connString"`
	Routes           map[string]json.RawMessage `json:"routes"`
	LogTable         string                     `json:"logTable"`
	SchemaSync       SchemaSyncConfig           `json:"schemaSync"`
}

// SchemaSyncConfig is the JSON shape of spec §6's schemaSync block.
type SchemaSyncConfig struct {
	Enabled            bool   `json:"enabled"`
	Strategy           string `json:"strategy"`
	OnMismatch         string `json:"onMismatch"`
	AutoCreateTable    bool   `json:"autoCreateTable"`
	AutoCreateColumns  bool   `json:"autoCreateColumns"`
	DropMissingColumns bool   `json:"dropMissingColumns"`
}

func (s SchemaSyncConfig) toSchemaConfig() schema.Config {
	return schema.Config{
		Enabled:            s.Enabled,
		Strategy:           schema.Strategy(s.Strategy),
		OnMismatch:         schema.OnMismatch(s.OnMismatch),
		AutoCreateTable:    s.AutoCreateTable,
		AutoCreateColumns:  s.AutoCreateColumns,
		DropMissingColumns: s.DropMissingColumns,
	}
}

// Driver is the Postgres replicator.
type Driver struct {
	*base.Base
	cfg  Config
	pool *pgxpool.Pool

	routesMu sync.RWMutex
	routes   map[string][]routing.Destination

	verified sync.Map // table name -> struct{}
}

// New constructs a Postgres Driver. config is typically the result of
// unmarshaling this driver's YAML/JSON block; see registry.Constructor.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency, SchemaSync: cfg.SchemaSync.toSchemaConfig()}
	return &Driver{Base: base.New("postgres", common, logger), cfg: cfg}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
	if d.cfg.ConnString == "" {
		errs = append(errs, "connString is required")
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

	pool, err := pgxpool.New(ctx, d.cfg.ConnString)
	if err != nil {
		d.SetState(replicator.StateFailed)
		return replicator.ConnectivityError("initialize", "", "check connString and network access", err)
	}
	d.pool = pool

	if err := d.pool.Ping(ctx); err != nil {
		d.pool.Close()
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
				if _, err := schema.Sync(ctx, typemap.Postgres, d.introspector(), d.execDDL(), d.Logger(), dst.Target, attrs, "", d.cfg.SchemaSync.toSchemaConfig()); err != nil {
					d.pool.Close()
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

type pgIntrospector struct{ d *Driver }

func (i pgIntrospector) Columns(ctx context.Context, table string) (map[string]schema.ColumnInfo, bool, error) {
	schemaName, tableOnly := splitSchemaTable(table)
	var exists bool
	q := "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1"
	args := []any{tableOnly}
	if schemaName != "" {
		q += " AND table_schema = $2)"
		args = append(args, schemaName)
	} else {
		q += " AND table_schema = current_schema())"
	}
	if err := i.d.pool.QueryRow(ctx, q, args...).Scan(&exists); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}

	rows, err := i.d.pool.Query(ctx, "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1", tableOnly)
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

func splitSchemaTable(table string) (schemaName, tableOnly string) {
	if strings.Contains(table, ".") {
		parts := strings.SplitN(table, ".", 2)
		return parts[0], parts[1]
	}
	return "", table
}

type pgExecutor struct{ d *Driver }

func (e pgExecutor) ExecDDL(ctx context.Context, stmt string) error {
	_, err := e.d.pool.Exec(ctx, stmt)
	return err
}

func (d *Driver) introspector() schema.Introspector { return pgIntrospector{d} }
func (d *Driver) execDDL() schema.DDLExecutor       { return pgExecutor{d} }

func (d *Driver) ensureTable(ctx context.Context, table string, attrs []schema.Attribute) error {
	if _, ok := d.verified.Load(table); ok {
		return nil
	}
	if _, err := schema.Sync(ctx, typemap.Postgres, d.introspector(), d.execDDL(), d.Logger(), table, attrs, "", d.cfg.SchemaSync.toSchemaConfig()); err != nil {
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
	quoted, err := sqlutil.QuoteIdent(typemap.Postgres, table)
	if err != nil {
		return err
	}

	switch op {
	case replicator.OpDelete:
		_, err := d.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoted), id)
		return err
	default: // insert, update
		cols, placeholders, args := insertColumns(payload)
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
			quoted, strings.Join(cols, ", "), strings.Join(placeholders, ", "), updateSet(cols))
		_, err := d.pool.Exec(ctx, q, args...)
		if err != nil {
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
	i := 1
	for k, v := range payload {
		q, _ := sqlutil.QuoteIdent(typemap.Postgres, k)
		cols = append(cols, q)
		placeholders = append(placeholders, sqlutil.Placeholder(typemap.Postgres, i))
		args = append(args, v)
		i++
	}
	return
}

func updateSet(cols []string) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == `"id"` {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return strings.Join(parts, ", ")
}

func (d *Driver) writeLogRow(ctx context.Context, resource string, op replicator.Operation, id string, data map[string]any) {
	serialized, err := json.Marshal(data)
	if err != nil {
		return
	}
	quoted, err := sqlutil.QuoteIdent(typemap.Postgres, d.cfg.LogTable)
	if err != nil {
		return
	}
	_, _ = d.pool.Exec(ctx, fmt.Sprintf("INSERT INTO %s (resource_name, operation, record_id, data, timestamp, source) VALUES ($1,$2,$3,$4,$5,$6)", quoted),
		resource, string(op), id, string(serialized), time.Now().UTC(), "s3db-replicator")
}

func (d *Driver) ReplicateBatch(ctx context.Context, resource string, records []replicator.Record) (*replicator.BatchResult, error) {
	if err := d.RequireReady("replicateBatch", resource); err != nil {
		return nil, err
	}
	total := len(records)
	pooled := batch.Run(records, d.Concurrency(), func(rec replicator.Record) (replicator.ReplicateResult, error) {
		res, err := d.Replicate(ctx, resource, rec.Operation, rec.Data, rec.ID, rec.Before)
		if err != nil {
			return replicator.ReplicateResult{}, err
		}
		return *res, nil
	}, func(err error, rec replicator.Record) error {
		return fmt.Errorf("record %s: %w", rec.ID, err)
	})

	out := &replicator.BatchResult{Total: total, Results: pooled.Results, Errors: pooled.Errors}
	for _, res := range pooled.Results {
		if res.Success || res.Skipped {
			out.Successful++
		}
	}
	out.Success = len(out.Errors) == 0
	if out.Success {
		d.Emit("batch_replicated", map[string]any{"resource": resource, "total": total})
	} else {
		d.Emit("batch_replicator_error", map[string]any{"resource": resource})
	}
	return out, nil
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	if d.pool == nil {
		return false
	}
	if err := d.pool.Ping(ctx); err != nil {
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
	status := d.Status(d.pool != nil, resources)
	status.Extra["dialect"] = "postgres"
	return status
}

func (d *Driver) Cleanup(ctx context.Context) error {
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
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
