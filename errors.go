package replicator

import (
	"errors"
	"fmt"
)

// Kind classifies a ReplicationError for programmatic handling. See spec §7.
type Kind string

const (
	KindConfiguration      Kind = "configuration"
	KindDependency         Kind = "dependency"
	KindConnectivity       Kind = "connectivity"
	KindAuth               Kind = "auth"
	KindSchemaMismatch     Kind = "schema_mismatch"
	KindUnsupportedOp      Kind = "unsupported_operation"
	KindPayload            Kind = "payload"
	KindTransientProvider  Kind = "transient_provider"
)

// ReplicationError is the single tagged error category every driver raises.
// It carries enough structure for a caller to log, retry, or surface a
// remediation without parsing message text.
type ReplicationError struct {
	Op         string
	Resource   string
	Kind       Kind
	Retriable  bool
	Suggestion string
	Err        error
}

func (e *ReplicationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Err)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s[%s]: %s", e.Op, e.Resource, e.Err)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

func (e *ReplicationError) Unwrap() error { return e.Err }

// NewReplicationError builds a ReplicationError, wrapping cause with
// fmt.Errorf-style context under Err.
func NewReplicationError(op, resource string, kind Kind, retriable bool, suggestion string, cause error) *ReplicationError {
	return &ReplicationError{
		Op:         op,
		Resource:   resource,
		Kind:       kind,
		Retriable:  retriable,
		Suggestion: suggestion,
		Err:        cause,
	}
}

// IsRetriable reports whether err is a ReplicationError marked retriable.
func IsRetriable(err error) bool {
	var re *ReplicationError
	if errors.As(err, &re) {
		return re.Retriable
	}
	return false
}

// KindOf returns the Kind of err if it is a ReplicationError, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var re *ReplicationError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// ConfigError is a convenience constructor for the most common non-retriable
// validation/initialize failure.
func ConfigError(op, resource, suggestion string, cause error) *ReplicationError {
	return NewReplicationError(op, resource, KindConfiguration, false, suggestion, cause)
}

// ConnectivityError marks a retriable transport-level failure.
func ConnectivityError(op, resource, suggestion string, cause error) *ReplicationError {
	return NewReplicationError(op, resource, KindConnectivity, true, suggestion, cause)
}

// SchemaMismatchError marks a non-retriable validate-only or onMismatch=error
// failure.
func SchemaMismatchError(op, resource, suggestion string, cause error) *ReplicationError {
	return NewReplicationError(op, resource, KindSchemaMismatch, false, suggestion, cause)
}

// NotReadyError is returned when replicate/replicateBatch is called outside
// the READY state.
func NotReadyError(op, resource string, state State) *ReplicationError {
	return NewReplicationError(op, resource, KindConnectivity, true, "call initialize()",
		fmt.Errorf("driver is in state %s, not %s", state, StateReady))
}
