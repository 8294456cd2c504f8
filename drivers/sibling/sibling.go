// Package sibling implements the sibling-database replication driver: it
// forwards change events to another resource in the same source database
// via the source's own Insert/Update/Delete API, rather than an external
// client.
package sibling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/routing"
)

// Config is the sibling driver's configuration.
type Config struct {
	Enabled          bool                       `json:"enabled"`
	BatchConcurrency int                        `json:"batchConcurrency"`
	Routes           map[string]json.RawMessage `json:"routes"`
}

// Driver is the sibling-database replicator.
type Driver struct {
	*base.Base
	cfg    Config
	source replicator.SiblingDB

	routesMu sync.RWMutex
	routes   map[string][]routing.Destination
}

// New constructs a sibling Driver.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency}
	return &Driver{Base: base.New("sibling", common, logger), cfg: cfg}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
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

// Initialize requires the source database to additionally implement
// SiblingDB (Insert/Update/Delete), since this driver writes back into it.
func (d *Driver) Initialize(ctx context.Context, source replicator.SourceDB) error {
	d.SetState(replicator.StateInitializing)
	if vr := d.ValidateConfig(); !vr.Valid {
		d.SetState(replicator.StateFailed)
		return replicator.ConfigError("initialize", "", strings.Join(vr.Errors, "; "), fmt.Errorf("invalid configuration"))
	}

	sib, ok := source.(replicator.SiblingDB)
	if !ok {
		d.SetState(replicator.StateFailed)
		return replicator.ConfigError("initialize", "", "the source database must support Insert/Update/Delete for sibling replication", fmt.Errorf("source does not implement SiblingDB"))
	}
	d.source = sib

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

	d.SetState(replicator.StateReady)
	d.Emit("initialized", nil)
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

func (d *Driver) writeOne(ctx context.Context, targetResource string, op replicator.Operation, id string, payload map[string]any) error {
	switch op {
	case replicator.OpInsert:
		return d.source.Insert(ctx, targetResource, payload)
	case replicator.OpUpdate:
		return d.source.Update(ctx, targetResource, id, payload)
	case replicator.OpDelete:
		return d.source.Delete(ctx, targetResource, id)
	default:
		return fmt.Errorf("unsupported operation %q", op)
	}
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
	return d.source != nil
}

func (d *Driver) GetStatus() replicator.ReplicatorStatus {
	resources := make([]string, 0)
	d.routesMu.RLock()
	for r := range d.routes {
		resources = append(resources, r)
	}
	d.routesMu.RUnlock()
	return d.Status(d.source != nil, resources)
}

func (d *Driver) Cleanup(ctx context.Context) error {
	d.source = nil
	d.SetState(replicator.StateClosed)
	return nil
}

// ShouldReplicateResource answers "is this resource routed?" when op is nil,
// and additionally consults each route's allowedActions when op is given.
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
