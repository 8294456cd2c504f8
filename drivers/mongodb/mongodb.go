// Package mongodb implements the MongoDB replication driver.
package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/routing"
)

// Config is the MongoDB driver's configuration.
type Config struct {
	Enabled          bool                       `json:"enabled"`
	BatchConcurrency int                        `json:"batchConcurrency"`
	URI              string                     `json:"uri"`
	Database         string                     `json:"database"`
	Routes           map[string]json.RawMessage `json:"routes"`
	LogCollection    string                     `json:"logCollection"`
}

// Driver is the MongoDB replicator.
type Driver struct {
	*base.Base
	cfg    Config
	client *mongo.Client

	routesMu sync.RWMutex
	routes   map[string][]routing.Destination
}

// New constructs a MongoDB Driver.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency}
	return &Driver{Base: base.New("mongodb", common, logger), cfg: cfg}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
	if d.cfg.URI == "" {
		errs = append(errs, "uri is required")
	}
	if d.cfg.Database == "" {
		errs = append(errs, "database is required")
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

	client, err := mongo.Connect(options.Client().ApplyURI(d.cfg.URI))
	if err != nil {
		d.SetState(replicator.StateFailed)
		return replicator.ConnectivityError("initialize", "", "check uri and network access", err)
	}
	d.client = client

	if err := d.client.Ping(ctx, nil); err != nil {
		_ = d.client.Disconnect(ctx)
		d.SetState(replicator.StateFailed)
		return replicator.ConnectivityError("initialize", "", "verify the database accepts connections", err)
	}

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
		payload, err := routing.Apply(dst, data, true)
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

func (d *Driver) writeOne(ctx context.Context, collName string, op replicator.Operation, id string, payload map[string]any) error {
	collection := d.client.Database(d.cfg.Database).Collection(collName)
	switch op {
	case replicator.OpDelete:
		_, err := collection.DeleteOne(ctx, bson.M{"_id": id})
		return err
	default:
		set := bson.M{}
		for k, v := range payload {
			if k == "_id" {
				continue
			}
			set[k] = v
		}
		_, err := collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}, options.UpdateOne().SetUpsert(true))
		if err != nil {
			return err
		}
		if d.cfg.LogCollection != "" {
			d.writeLogDoc(ctx, collName, op, id, payload)
		}
		return nil
	}
}

func (d *Driver) writeLogDoc(ctx context.Context, resource string, op replicator.Operation, id string, data map[string]any) {
	_, _ = d.client.Database(d.cfg.Database).Collection(d.cfg.LogCollection).InsertOne(ctx, bson.M{
		"resource_name": resource,
		"operation":     string(op),
		"record_id":     id,
		"data":          data,
		"timestamp":     time.Now().UTC(),
		"source":        "s3db-replicator",
	})
}

func (d *Driver) ReplicateBatch(ctx context.Context, resource string, records []replicator.Record) (*replicator.BatchResult, error) {
	if err := d.RequireReady("replicateBatch", resource); err != nil {
		return nil, err
	}
	d.routesMu.RLock()
	dests, routed := d.routes[resource]
	d.routesMu.RUnlock()
	if !routed {
		out := &replicator.BatchResult{Total: len(records)}
		for range records {
			out.Results = append(out.Results, replicator.ReplicateResult{Skipped: true, Reason: "resource not routed"})
			out.Successful++
		}
		out.Success = true
		return out, nil
	}

	byCollection := map[string][]mongo.WriteModel{}
	for _, rec := range records {
		for _, dst := range dests {
			if !dst.Allows(string(rec.Operation)) {
				continue
			}
			payload, err := routing.Apply(dst, rec.Data, true)
			if err != nil {
				continue
			}
			var model mongo.WriteModel
			if rec.Operation == replicator.OpDelete {
				model = mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": rec.ID})
			} else {
				set := bson.M{}
				for k, v := range payload {
					if k == "_id" {
						continue
					}
					set[k] = v
				}
				model = mongo.NewUpdateOneModel().SetFilter(bson.M{"_id": rec.ID}).SetUpdate(bson.M{"$set": set}).SetUpsert(true)
			}
			byCollection[dst.Target] = append(byCollection[dst.Target], model)
		}
	}

	out := &replicator.BatchResult{Total: len(records)}
	failed := false
	for collName, models := range byCollection {
		if _, err := d.client.Database(d.cfg.Database).Collection(collName).BulkWrite(ctx, models); err != nil {
			out.Errors = append(out.Errors, fmt.Errorf("bulk write to %s: %w", collName, err))
			failed = true
		}
	}
	out.Success = !failed
	if out.Success {
		out.Successful = len(records)
	}
	return out, nil
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	if d.client == nil {
		return false
	}
	if err := d.client.Ping(ctx, nil); err != nil {
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
	status.Extra["database"] = d.cfg.Database
	return status
}

func (d *Driver) Cleanup(ctx context.Context) error {
	if d.client != nil {
		err := d.client.Disconnect(ctx)
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
