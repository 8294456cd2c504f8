// Package routing normalizes the four syntactic forms a resource's
// destination configuration may take (spec §3, §9) into a single list of
// Destination values, and answers action-filtering questions for them.
package routing

import (
	"encoding/json"
	"fmt"
)

// Transform is a pure function applied to a payload before a destination
// write. Absent means pass-through after internal-field cleaning.
type Transform func(data map[string]any) (map[string]any, error)

// Destination is one normalized route: a target identifier plus the actions
// it accepts and an optional transform.
type Destination struct {
	Target         string
	AllowedActions map[string]struct{}
	Transform      Transform

	// DynamoDB-only.
	PrimaryKey string
	SortKey    string

	// BigQuery-only.
	Mutability   string
	TableOptions map[string]any
}

// defaultActions is the implicit allowedActions set when none is given:
// {insert}.
func defaultActions() map[string]struct{} {
	return map[string]struct{}{"insert": {}}
}

// Allows reports whether this destination accepts action.
func (d Destination) Allows(action string) bool {
	if len(d.AllowedActions) == 0 {
		_, ok := defaultActions()[action]
		return ok
	}
	_, ok := d.AllowedActions[action]
	return ok
}

var legalActions = map[string]struct{}{"insert": {}, "update": {}, "delete": {}}

// Validate checks the routing invariants from spec §4.1's validateConfig:
// non-empty target, and a non-empty subset of {insert,update,delete} when
// actions are explicitly given.
func (d Destination) Validate() error {
	if d.Target == "" {
		return fmt.Errorf("route has an empty target")
	}
	for a := range d.AllowedActions {
		if _, ok := legalActions[a]; !ok {
			return fmt.Errorf("route %q has invalid action %q", d.Target, a)
		}
	}
	return nil
}

// rawDestination is the JSON/YAML shape accepted for a single struct-form
// destination entry (form 2/3 in spec §3).
type rawDestination struct {
	Target         string   `json:"target" yaml:"target"`
	Table          string   `json:"table" yaml:"table"`
	Collection     string   `json:"collection" yaml:"collection"`
	QueueURL       string   `json:"queueUrl" yaml:"queueUrl"`
	Resource       string   `json:"resource" yaml:"resource"`
	AllowedActions []string `json:"allowedActions" yaml:"allowedActions"`
	Actions        []string `json:"actions" yaml:"actions"`
	PrimaryKey     string   `json:"primaryKey" yaml:"primaryKey"`
	SortKey        string   `json:"sortKey" yaml:"sortKey"`
	Mutability     string   `json:"mutability" yaml:"mutability"`
}

func (r rawDestination) resolveTarget() string {
	for _, v := range []string{r.Target, r.Table, r.Collection, r.QueueURL, r.Resource} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (r rawDestination) toDestination() Destination {
	d := Destination{
		Target:     r.resolveTarget(),
		PrimaryKey: r.PrimaryKey,
		SortKey:    r.SortKey,
		Mutability: r.Mutability,
	}
	actions := r.AllowedActions
	if len(actions) == 0 {
		actions = r.Actions
	}
	if len(actions) > 0 {
		d.AllowedActions = make(map[string]struct{}, len(actions))
		for _, a := range actions {
			d.AllowedActions[a] = struct{}{}
		}
	}
	if d.PrimaryKey == "" {
		d.PrimaryKey = "id"
	}
	return d
}

// Parse normalizes one resource's routing configuration value into a list of
// Destination. It accepts, per spec §3:
//  1. a bare string target
//  2. a JSON array of strings and/or struct-form entries
//  3. a single struct-form entry (target/table/collection/queueUrl/resource;
//     actions may be given as allowedActions or, sibling-style, as actions)
//
// The fourth form (a function, for the sibling-database replicator) has no
// JSON representation and is constructed directly via NewTransformRoute.
func Parse(raw json.RawMessage) ([]Destination, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []Destination{{Target: asString}}, nil
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(raw, &asArray); err == nil {
		dests := make([]Destination, 0, len(asArray))
		for _, elem := range asArray {
			d, err := parseOne(elem)
			if err != nil {
				return nil, err
			}
			dests = append(dests, d)
		}
		return dests, nil
	}

	d, err := parseOne(raw)
	if err != nil {
		return nil, fmt.Errorf("routing config is neither a string, array, nor object: %w", err)
	}
	return []Destination{d}, nil
}

func parseOne(raw json.RawMessage) (Destination, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return Destination{Target: asString}, nil
	}
	var rd rawDestination
	if err := json.Unmarshal(raw, &rd); err != nil {
		return Destination{}, fmt.Errorf("invalid route entry: %w", err)
	}
	d := rd.toDestination()
	if d.Target == "" {
		return Destination{}, fmt.Errorf("route entry has no target/table/collection/queueUrl/resource")
	}
	return d, nil
}

// NewTransformRoute builds the fourth syntactic form: a function treated as
// a transform applied to a same-named destination (sibling-database
// replicator only, per spec §3 form 4).
func NewTransformRoute(sameNameTarget string, fn Transform) Destination {
	return Destination{Target: sameNameTarget, Transform: fn}
}

// CleanInternal strips keys starting with "$" or "_" from data, except when
// keepUnderscoreID is set (MongoDB preserves "_id" as its primary key).
func CleanInternal(data map[string]any, keepUnderscoreID bool) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if keepUnderscoreID && k == "_id" {
			out[k] = v
			continue
		}
		if len(k) > 0 && (k[0] == '$' || k[0] == '_') {
			continue
		}
		out[k] = v
	}
	return out
}

// Apply runs d's transform (if any) then strips internal fields, returning
// the final payload to write to the destination.
func Apply(d Destination, data map[string]any, keepUnderscoreID bool) (map[string]any, error) {
	payload := data
	if d.Transform != nil {
		var err error
		payload, err = d.Transform(payload)
		if err != nil {
			return nil, fmt.Errorf("transform for route %q: %w", d.Target, err)
		}
	}
	return CleanInternal(payload, keepUnderscoreID), nil
}
