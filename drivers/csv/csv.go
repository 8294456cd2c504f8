// Package csv implements the CSV file replication driver: one row per
// record, columns derived from the payload keys in lexicographic order.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/rotation"
)

// Config is the CSV driver's configuration.
type Config struct {
	Enabled          bool            `json:"enabled"`
	BatchConcurrency int             `json:"batchConcurrency"`
	Directory        string          `json:"directory"`
	Rotation         rotation.Policy `json:"rotation"`
	SizeThreshold    int64           `json:"sizeThresholdBytes"`
	Resources        map[string]bool `json:"resources"`
}

// Driver is the CSV replicator.
type Driver struct {
	*base.Base
	cfg Config
	mu  sync.Mutex

	headersMu sync.Mutex
	headers   map[string][]string // path -> column order already written
}

// New constructs a CSV Driver.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency}
	return &Driver{Base: base.New("csv", common, logger), cfg: cfg, headers: map[string][]string{}}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
	if d.cfg.Directory == "" {
		errs = append(errs, "directory is required")
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
	if err := os.MkdirAll(d.cfg.Directory, 0o755); err != nil {
		d.SetState(replicator.StateFailed)
		return replicator.ConfigError("initialize", "", "check directory permissions", err)
	}
	d.SetState(replicator.StateReady)
	d.Emit("initialized", nil)
	return nil
}

func (d *Driver) Replicate(ctx context.Context, resource string, op replicator.Operation, data map[string]any, id string, before map[string]any) (*replicator.ReplicateResult, error) {
	if err := d.RequireReady("replicate", resource); err != nil {
		return nil, err
	}
	if d.cfg.Resources != nil && !d.cfg.Resources[resource] {
		return &replicator.ReplicateResult{Skipped: true, Reason: "resource not configured for this sink"}, nil
	}
	if op == replicator.OpDelete {
		return &replicator.ReplicateResult{Success: true, Skipped: true, Reason: "CSV sink does not support in-place deletes; event skipped"}, nil
	}

	path := rotation.Path(d.cfg.Directory, resource, "csv", d.cfg.Rotation, time.Now())
	clean := replicator.CleanPayload(data)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.Rotation == rotation.PolicySize {
		if err := rotation.MaybeRotateBySize(path, d.cfg.SizeThreshold, time.Now()); err != nil {
			return nil, fmt.Errorf("rotate %s: %w", path, err)
		}
	}
	if err := d.appendRow(path, clean); err != nil {
		result := &replicator.ReplicateResult{Success: false, Errors: []error{err}}
		result.Results = append(result.Results, replicator.DestinationResult{Target: path, Success: false, Err: err})
		return result, nil
	}

	result := &replicator.ReplicateResult{Success: true, Tables: []string{path}}
	result.Results = append(result.Results, replicator.DestinationResult{Target: path, Success: true})
	d.Emit("replicated", map[string]any{"resource": resource})
	return result, nil
}

func (d *Driver) appendRow(path string, data map[string]any) error {
	columns := sortedKeys(data)

	d.headersMu.Lock()
	existing, wrote := d.headers[path]
	needsHeader := !wrote
	if wrote && !sameColumns(existing, columns) {
		// Column set grew: widen the header to the union, still appended.
		columns = unionSorted(existing, columns)
	}
	d.headers[path] = columns
	d.headersMu.Unlock()

	_, statErr := os.Stat(path)
	fileExists := statErr == nil

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader && !fileExists {
		if err := w.Write(columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	row := make([]string, len(columns))
	for i, col := range columns {
		if v, ok := data[col]; ok && v != nil {
			row[i] = fmt.Sprintf("%v", v)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func unionSorted(a, b []string) []string {
	set := map[string]struct{}{}
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
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
	info, err := os.Stat(d.cfg.Directory)
	return err == nil && info.IsDir()
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

func (d *Driver) Cleanup(ctx context.Context) error {
	d.SetState(replicator.StateClosed)
	return nil
}

func (d *Driver) ShouldReplicateResource(resource string, op *replicator.Operation) bool {
	if d.cfg.Resources == nil {
		return true
	}
	return d.cfg.Resources[resource]
}

var _ replicator.Replicator = (*Driver)(nil)
