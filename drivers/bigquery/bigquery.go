// Package bigquery implements the BigQuery warehouse replication driver,
// with append-only, mutable and immutable write semantics.
package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/routing"
	"github.com/user/s3db-replicator/pkg/schema"
)

// Config is the BigQuery driver's configuration.
type Config struct {
	Enabled          bool                       `json:"enabled"`
	BatchConcurrency int                        `json:"batchConcurrency"`
	ProjectID        string                     `json:"projectId"`
	Dataset          string                     `json:"dataset"`
	Mutability       string                     `json:"mutability"`
	Routes           map[string]json.RawMessage `json:"routes"`
	SchemaSyncEnabled bool                      `json:"schemaSyncEnabled"`
}

func (c Config) mutability() schema.Mutability {
	switch c.Mutability {
	case "mutable":
		return schema.MutabilityMutable
	case "immutable":
		return schema.MutabilityImmutable
	default:
		return schema.MutabilityAppendOnly
	}
}

// Driver is the BigQuery replicator.
type Driver struct {
	*base.Base
	cfg    Config
	client *bigquery.Client

	routesMu sync.RWMutex
	routes   map[string][]routing.Destination

	versionsMu sync.Mutex
	versions   map[string]int64 // table/id -> monotonic version, immutable mode only
}

// New constructs a BigQuery Driver.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency}
	return &Driver{
		Base:     base.New("bigquery", common, logger),
		cfg:      cfg,
		versions: make(map[string]int64),
	}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
	if d.cfg.ProjectID == "" {
		errs = append(errs, "projectId is required")
	}
	if d.cfg.Dataset == "" {
		errs = append(errs, "dataset is required")
	}
	switch d.cfg.Mutability {
	case "", "append-only", "mutable", "immutable":
	default:
		errs = append(errs, fmt.Sprintf("invalid mutability %q", d.cfg.Mutability))
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

	client, err := bigquery.NewClient(ctx, d.cfg.ProjectID)
	if err != nil {
		d.SetState(replicator.StateFailed)
		return replicator.ConnectivityError("initialize", "", "check projectId and GCP credentials", err)
	}
	d.client = client

	dataset := d.client.Dataset(d.cfg.Dataset)
	if _, err := dataset.Metadata(ctx); err != nil {
		d.SetState(replicator.StateFailed)
		return replicator.ConnectivityError("initialize", "", "grant BigQuery Data Editor and verify the dataset exists", err)
	}

	if d.cfg.SchemaSyncEnabled && source != nil {
		for resource, dests := range routes {
			res, ok := source.Resource(resource)
			if !ok {
				continue
			}
			for _, dst := range dests {
				if err := d.ensureTable(ctx, dst.Target, res.Schema()); err != nil {
					d.SetState(replicator.StateFailed)
					return replicator.SchemaMismatchError("initialize", resource, "reconcile the BigQuery table schema manually", err)
				}
			}
		}
	}

	d.SetState(replicator.StateReady)
	d.Emit("initialized", nil)
	return nil
}

func (d *Driver) ensureTable(ctx context.Context, table string, sc replicator.ResourceSchema) error {
	attrs := make([]schema.Attribute, 0, len(sc.Attributes))
	for _, a := range sc.Attributes {
		if sc.IsPluginAttribute(a.Name) {
			continue
		}
		attrs = append(attrs, schema.Attribute{Name: a.Name, Type: a.Spec.FieldType()})
	}
	fields := schema.BigQueryFields(attrs, d.cfg.mutability())

	tableRef := d.client.Dataset(d.cfg.Dataset).Table(table)
	meta, err := tableRef.Metadata(ctx)
	if err != nil {
		bqSchema := make(bigquery.Schema, 0, len(fields))
		for _, f := range fields {
			bqSchema = append(bqSchema, &bigquery.FieldSchema{Name: f.Name, Type: bigquery.FieldType(f.Type), Required: f.Mode == "REQUIRED"})
		}
		return tableRef.Create(ctx, &bigquery.TableMetadata{Schema: bqSchema})
	}

	existing := map[string]bool{}
	for _, f := range meta.Schema {
		existing[f.Name] = true
	}
	missing := make([]*bigquery.FieldSchema, 0)
	for _, f := range fields {
		if !existing[f.Name] {
			missing = append(missing, &bigquery.FieldSchema{Name: f.Name, Type: bigquery.FieldType(f.Type), Required: f.Mode == "REQUIRED"})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	newSchema := append(append(bigquery.Schema{}, meta.Schema...), missing...)
	_, err = tableRef.Update(ctx, bigquery.TableMetadataToUpdate{Schema: newSchema}, meta.ETag)
	return err
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

		mode := d.cfg.mutability()
		if dst.Mutability != "" {
			switch dst.Mutability {
			case "mutable":
				mode = schema.MutabilityMutable
			case "immutable":
				mode = schema.MutabilityImmutable
			case "append-only":
				mode = schema.MutabilityAppendOnly
			}
		}

		if err := d.writeOne(ctx, dst.Target, op, id, payload, mode); err != nil {
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

func (d *Driver) writeOne(ctx context.Context, table string, op replicator.Operation, id string, payload map[string]any, mode schema.Mutability) error {
	switch mode {
	case schema.MutabilityMutable:
		return d.writeMutable(ctx, table, op, id, payload)
	default:
		return d.insertRow(ctx, table, op, id, payload, mode)
	}
}

// rowSaver adapts a plain map to bigquery.ValueSaver.
type rowSaver map[string]bigquery.Value

func (r rowSaver) Save() (map[string]bigquery.Value, string, error) {
	return r, bigquery.NoDedupeID, nil
}

func (d *Driver) insertRow(ctx context.Context, table string, op replicator.Operation, id string, payload map[string]any, mode schema.Mutability) error {
	row := make(rowSaver, len(payload)+4)
	for k, v := range payload {
		row[k] = v
	}
	row["id"] = id
	row["_operation_type"] = string(op)
	row["_operation_timestamp"] = time.Now().UTC()
	if mode == schema.MutabilityImmutable {
		row["_is_deleted"] = op == replicator.OpDelete
		row["_version"] = d.nextVersion(table, id)
	}
	inserter := d.client.Dataset(d.cfg.Dataset).Table(table).Inserter()
	return inserter.Put(ctx, row)
}

func (d *Driver) nextVersion(table, id string) int64 {
	d.versionsMu.Lock()
	defer d.versionsMu.Unlock()
	key := table + "/" + id
	d.versions[key]++
	return d.versions[key]
}

func (d *Driver) writeMutable(ctx context.Context, table string, op replicator.Operation, id string, payload map[string]any) error {
	var q *bigquery.Query
	switch op {
	case replicator.OpDelete:
		q = d.client.Query(fmt.Sprintf("DELETE FROM `%s.%s` WHERE id = @id", d.cfg.Dataset, table))
		q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}
	default:
		set := make([]string, 0, len(payload))
		params := []bigquery.QueryParameter{{Name: "id", Value: id}}
		i := 0
		for k, v := range payload {
			if k == "id" {
				continue
			}
			pname := fmt.Sprintf("p%d", i)
			set = append(set, fmt.Sprintf("%s = @%s", k, pname))
			params = append(params, bigquery.QueryParameter{Name: pname, Value: v})
			i++
		}
		if len(set) == 0 {
			return nil
		}
		q = d.client.Query(fmt.Sprintf("MERGE `%s.%s` T USING (SELECT @id AS id) S ON T.id = S.id WHEN MATCHED THEN UPDATE SET %s WHEN NOT MATCHED THEN INSERT (id, %s) VALUES (@id, %s)",
			d.cfg.Dataset, table, strings.Join(set, ", "), strings.Join(payloadKeys(payload), ", "), strings.Join(paramRefs(params[1:]), ", ")))
		q.Parameters = params
	}

	_, err := runQuery(ctx, q)
	if err != nil && strings.Contains(err.Error(), "streaming buffer") {
		time.Sleep(30 * time.Second)
		_, err = runQuery(ctx, q)
	}
	return err
}

func payloadKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

func paramRefs(params []bigquery.QueryParameter) []string {
	refs := make([]string, 0, len(params))
	for _, p := range params {
		refs = append(refs, "@"+p.Name)
	}
	return refs
}

func runQuery(ctx context.Context, q *bigquery.Query) (*bigquery.JobIterator, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return nil, err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if err := status.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Driver) ReplicateBatch(ctx context.Context, resource string, records []replicator.Record) (*replicator.BatchResult, error) {
	if err := d.RequireReady("replicateBatch", resource); err != nil {
		return nil, err
	}
	out := &replicator.BatchResult{Total: len(records)}
	failed := false
	for _, rec := range records {
		res, err := d.Replicate(ctx, resource, rec.Operation, rec.Data, rec.ID, rec.Before)
		if err != nil {
			out.Errors = append(out.Errors, err)
			failed = true
			continue
		}
		out.Results = append(out.Results, *res)
		if res.Success {
			out.Successful++
		} else {
			failed = true
			out.Errors = append(out.Errors, res.Errors...)
		}
	}
	out.Success = !failed
	return out, nil
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	if d.client == nil {
		return false
	}
	it := d.client.Datasets(ctx)
	_, err := it.Next()
	if err != nil && err != iterator.Done {
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
	status := d.Status(d.client != nil, resources)
	status.Extra["dataset"] = d.cfg.Dataset
	status.Extra["mutability"] = string(d.cfg.mutability())
	return status
}

func (d *Driver) Cleanup(ctx context.Context) error {
	if d.client != nil {
		err := d.client.Close()
		d.client = nil
		d.SetState(replicator.StateClosed)
		return err
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
