// Package excel implements the Excel file replication driver. Records are
// buffered per resource into an in-memory workbook and flushed to disk on
// reaching a chunk threshold or on Cleanup, discarding the workbook after
// each flush.
package excel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tealeg/xlsx"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/rotation"
)

const (
	defaultChunkSize = 500
	maxRows          = 1048576
	sheetName        = "Sheet1"
)

// Config is the Excel driver's configuration.
type Config struct {
	Enabled          bool            `json:"enabled"`
	BatchConcurrency int             `json:"batchConcurrency"`
	Directory        string          `json:"directory"`
	Rotation         rotation.Policy `json:"rotation"`
	ChunkSize        int             `json:"chunkSize"`
	Resources        map[string]bool `json:"resources"`
}

func (c Config) chunkSize() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return defaultChunkSize
}

type sheetBuffer struct {
	mu      sync.Mutex
	columns []string
	rows    []map[string]any
}

// Driver is the Excel replicator.
type Driver struct {
	*base.Base
	cfg Config

	buffersMu sync.Mutex
	buffers   map[string]*sheetBuffer // path -> pending rows
}

// New constructs an Excel Driver.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency}
	return &Driver{Base: base.New("excel", common, logger), cfg: cfg, buffers: map[string]*sheetBuffer{}}
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
	d.SetState(replicator.StateReady)
	d.Emit("initialized", nil)
	return nil
}

func (d *Driver) bufferFor(path string) *sheetBuffer {
	d.buffersMu.Lock()
	defer d.buffersMu.Unlock()
	b, ok := d.buffers[path]
	if !ok {
		b = &sheetBuffer{}
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
		return &replicator.ReplicateResult{Success: true, Skipped: true, Reason: "Excel sink does not support in-place deletes; event skipped"}, nil
	}

	path := rotation.Path(d.cfg.Directory, resource, "xlsx", d.cfg.Rotation, time.Now())
	clean := replicator.CleanPayload(data)

	b := d.bufferFor(path)
	b.mu.Lock()
	if len(b.rows) >= maxRows-1 {
		b.mu.Unlock()
		err := fmt.Errorf("sheet row cap of %d reached for %s", maxRows, path)
		result := &replicator.ReplicateResult{Success: false, Errors: []error{err}}
		result.Results = append(result.Results, replicator.DestinationResult{Target: path, Success: false, Err: err})
		return result, nil
	}
	b.columns = mergeColumns(b.columns, clean)
	b.rows = append(b.rows, clean)
	shouldFlush := len(b.rows) >= d.cfg.chunkSize()
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

func mergeColumns(existing []string, row map[string]any) []string {
	set := map[string]struct{}{}
	for _, c := range existing {
		set[c] = struct{}{}
	}
	for k := range row {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// flush writes the buffered rows for path to a workbook with a bold header
// row, an autofilter over the header, and the header row frozen; the
// workbook is discarded once written.
func (d *Driver) flush(path string) error {
	b := d.bufferFor(path)
	b.mu.Lock()
	columns := b.columns
	rows := b.rows
	b.columns = nil
	b.rows = nil
	b.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	headerRow := sheet.AddRow()
	boldStyle := xlsx.NewStyle()
	boldStyle.Font.Bold = true
	for _, col := range columns {
		cell := headerRow.AddCell()
		cell.Value = col
		cell.SetStyle(boldStyle)
	}
	sheet.SheetViews = []xlsx.SheetView{{Pane: &xlsx.Pane{YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft", State: "frozen"}}}
	lastCol := string(rune('A' + len(columns) - 1))
	sheet.AutoFilter = &xlsx.AutoFilter{TopLeftCell: "A1", BottomRightCell: fmt.Sprintf("%s1", lastCol)}

	for _, row := range rows {
		r := sheet.AddRow()
		for _, col := range columns {
			cell := r.AddCell()
			if v, ok := row[col]; ok && v != nil {
				cell.SetValue(v)
			}
		}
	}

	return wb.Save(path)
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
