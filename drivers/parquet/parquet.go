// Package parquet implements the Parquet file replication driver. Records
// are buffered in-memory per resource and flushed to a row group on
// reaching rowGroupSize or on Cleanup, per the source.Writer's JSON-schema
// write path.
package parquet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/rotation"
)

const defaultRowGroupSize = 500

// Config is the Parquet driver's configuration.
type Config struct {
	Enabled          bool            `json:"enabled"`
	BatchConcurrency int             `json:"batchConcurrency"`
	Directory        string          `json:"directory"`
	Rotation         rotation.Policy `json:"rotation"`
	RowGroupSize     int             `json:"rowGroupSize"`
	Schema           string          `json:"schema"` // parquet-go JSON schema string
	Resources        map[string]bool `json:"resources"`
}

func (c Config) rowGroupSize() int {
	if c.RowGroupSize > 0 {
		return c.RowGroupSize
	}
	return defaultRowGroupSize
}

type buffer struct {
	mu      sync.Mutex
	records []string // JSON-encoded rows awaiting flush
}

// Driver is the Parquet replicator.
type Driver struct {
	*base.Base
	cfg Config

	buffersMu sync.Mutex
	buffers   map[string]*buffer // path -> pending rows
}

// New constructs a Parquet Driver.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency}
	return &Driver{Base: base.New("parquet", common, logger), cfg: cfg, buffers: map[string]*buffer{}}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
	if d.cfg.Directory == "" {
		errs = append(errs, "directory is required")
	}
	if d.cfg.Schema == "" {
		errs = append(errs, "schema is required")
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
	d.SetState(replicator.StateReady)
	d.Emit("initialized", nil)
	return nil
}

func (d *Driver) bufferFor(path string) *buffer {
	d.buffersMu.Lock()
	defer d.buffersMu.Unlock()
	b, ok := d.buffers[path]
	if !ok {
		b = &buffer{}
		d.buffers[path] = b
	}
	return b
}

func (d *Driver) Replicate(ctx context.Context, resource string, op replicator.Operation, data map[string]any, id string, before map[string]any) (*replicator.ReplicateResult, error) {
	if err := d.RequireReady("replicate", resource); err != nil {
		return nil, err
	}
	if d.cfg.Resources != nil && !d.cfg.Resources[resource] {
		return &replicator.ReplicateResult{Skipped: true, Reason: "resource not configured for this sink"}, nil
	}
	if op == replicator.OpDelete {
		return &replicator.ReplicateResult{Success: true, Skipped: true, Reason: "Parquet sink does not support in-place deletes; event skipped"}, nil
	}

	path := rotation.Path(d.cfg.Directory, resource, "parquet", d.cfg.Rotation, time.Now())
	clean := replicator.CleanPayload(data)
	row, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	b := d.bufferFor(path)
	b.mu.Lock()
	b.records = append(b.records, string(row))
	shouldFlush := len(b.records) >= d.cfg.rowGroupSize()
	b.mu.Unlock()

	result := &replicator.ReplicateResult{Success: true, Tables: []string{path}}
	result.Results = append(result.Results, replicator.DestinationResult{Target: path, Success: true})

	if shouldFlush {
		if err := d.flush(path); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err)
			result.Results[0] = replicator.DestinationResult{Target: path, Success: false, Err: err}
		}
	}
	d.Emit("replicated", map[string]any{"resource": resource})
	return result, nil
}

// flush writes the buffered rows for path to a fresh parquet file and
// discards the writer, per the buffer-then-flush-on-threshold-or-close
// convention used by the other warehouse-shaped sinks in this module.
func (d *Driver) flush(path string) error {
	b := d.bufferFor(path)
	b.mu.Lock()
	rows := b.records
	b.records = nil
	b.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("open parquet file %s: %w", path, err)
	}
	pw, err := writer.NewJSONWriter(d.cfg.Schema, fw, 1)
	if err != nil {
		fw.Close()
		return fmt.Errorf("create parquet writer: %w", err)
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("stop parquet writer: %w", err)
	}
	return fw.Close()
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
	return d.State() == replicator.StateReady
}

func (d *Driver) GetStatus() replicator.ReplicatorStatus {
	resources := make([]string, 0, len(d.cfg.Resources))
	for r := range d.cfg.Resources {
		resources = append(resources, r)
	}
	status := d.Status(d.TestConnection(context.Background()), resources)
	status.Extra["directory"] = d.cfg.Directory
	return status
}

// Cleanup flushes every pending buffer before closing.
func (d *Driver) Cleanup(ctx context.Context) error {
	d.buffersMu.Lock()
	paths := make([]string, 0, len(d.buffers))
	for p := range d.buffers {
		paths = append(paths, p)
	}
	d.buffersMu.Unlock()

	var firstErr error
	for _, p := range paths {
		if err := d.flush(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.SetState(replicator.StateClosed)
	return firstErr
}

func (d *Driver) ShouldReplicateResource(resource string, op *replicator.Operation) bool {
	if d.cfg.Resources == nil {
		return true
	}
	return d.cfg.Resources[resource]
}

var _ replicator.Replicator = (*Driver)(nil)
