// Package envelope builds the canonical wire message shared by the SQS and
// webhook drivers (spec §6, GLOSSARY "Canonical envelope").
package envelope

import "time"

// Source identifies this engine in every outbound envelope.
const Source = "s3db-replicator"

// Envelope is the canonical JSON shape: {resource, action, timestamp,
// source, data, before?}.
type Envelope struct {
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Before    map[string]any `json:"before,omitempty"`
}

// New builds an Envelope with the current UTC time in ISO-8601 form.
func New(resource, action string, data, before map[string]any) Envelope {
	return Envelope{
		Resource:  resource,
		Action:    action,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    Source,
		Data:      data,
		Before:    before,
	}
}

// Batch is the webhook batch-mode request body: {batch: [envelope...]}.
type Batch struct {
	Batch []Envelope `json:"batch"`
}
