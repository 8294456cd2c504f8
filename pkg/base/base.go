// Package base provides the embeddable scaffolding every driver shares:
// the lifecycle state machine, common configuration validation, and an
// event-emission stub (spec §4.1, §9 "Per-driver client objects").
package base

import (
	"fmt"
	"sync"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/schema"
)

// CommonConfig is the set of top-level configuration keys common to every
// driver (spec §6).
type CommonConfig struct {
	Enabled          bool
	BatchConcurrency int
	LogLevel         string
	SchemaSync       schema.Config
}

// Validate checks the invariants spec §8 calls out: batchConcurrency must be
// at least 1. Collected, never a single-error short circuit, matching
// validateConfig's "pure, collects every problem" contract.
func (c CommonConfig) Validate() []string {
	var errs []string
	if c.BatchConcurrency < 1 {
		errs = append(errs, "batchConcurrency must be >= 1 (call initialize() with a corrected config)")
	}
	return errs
}

// Base is embedded by every driver struct. It owns the state machine, the
// injected Logger (falling back to the package default), and the common
// configuration, and exposes small helpers so the driver's Replicate methods
// don't each re-implement the same guard logic.
type Base struct {
	mu     sync.RWMutex
	name   string
	state  replicator.State
	logger replicator.Logger
	config CommonConfig
}

// New constructs a Base in the CREATED state.
func New(name string, cfg CommonConfig, logger replicator.Logger) *Base {
	if logger == nil {
		logger = replicator.NewDefaultLogger()
	}
	return &Base{name: name, state: replicator.StateCreated, logger: logger, config: cfg}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Logger() replicator.Logger { return b.logger }

func (b *Base) Config() CommonConfig { return b.config }

// Concurrency returns the configured batch concurrency, defaulting when the
// caller supplied an invalid value (Validate should normally have caught
// this already, but drivers may also call this directly).
func (b *Base) Concurrency() int {
	if b.config.BatchConcurrency < 1 {
		return 5
	}
	return b.config.BatchConcurrency
}

// State returns the current lifecycle state.
func (b *Base) State() replicator.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// SetState transitions the state machine. Drivers call this from
// Initialize/Cleanup; it performs no legality checking beyond what
// RequireReady enforces for replicate calls.
func (b *Base) SetState(s replicator.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

// RequireReady returns a retriable NotReadyError unless the driver is READY,
// per spec §4.1's state machine ("replicate/replicateBatch are legal only in
// READY").
func (b *Base) RequireReady(op, resource string) error {
	st := b.State()
	if st != replicator.StateReady {
		return replicator.NotReadyError(op, resource, st)
	}
	return nil
}

// Emit logs an observability event at info level. Spec §9 notes event
// emission is informational only; this package has no subscriber mechanism,
// matching that guarantee — callers must not rely on it for correctness.
func (b *Base) Emit(event string, fields map[string]any) {
	kv := make([]any, 0, len(fields)*2+2)
	kv = append(kv, "event", event)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	b.logger.Info(fmt.Sprintf("%s: %s", b.name, event), kv...)
}

// Status builds the common portion of ReplicatorStatus; drivers merge in
// their own Extra fields.
func (b *Base) Status(connected bool, resources []string) replicator.ReplicatorStatus {
	return replicator.ReplicatorStatus{
		Name:      b.name,
		Enabled:   b.config.Enabled,
		Connected: connected,
		Resources: resources,
		Extra:     map[string]any{"state": string(b.State())},
	}
}
