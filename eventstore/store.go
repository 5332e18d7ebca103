// Package eventstore implements the flow engine's append-only event log:
// an in-memory implementation guarded by a mutex and process-wide counter,
// and a durable implementation backed by pgx/pgxpool. Both honor the same
// Store contract so the engine is agnostic to which backend it is handed.
package eventstore

import (
	"context"
	"errors"
	"fmt"

	"flowengine.evalgo.org/event"
)

// Store is the event log contract: append-only, totally ordered per flow.
// No update/delete path exists because none is exposed here.
type Store interface {
	// Append assigns a globally monotonic seq, stamps ts, persists
	// atomically, and returns the full event.
	Append(ctx context.Context, flowID string, kind event.FlowEventKind) (event.FlowEvent, error)
	// List returns all events for flowID in ascending seq order.
	List(ctx context.Context, flowID string) ([]event.FlowEvent, error)
}

// ErrorKind classifies event store failures.
type ErrorKind string

const (
	// Transient failures are retryable (serialization conflict, connection reset).
	Transient ErrorKind = "transient"
	// Integrity failures are constraint violations and fatal.
	Integrity ErrorKind = "integrity"
	// Serialization failures mean the payload itself was rejected.
	Serialization ErrorKind = "serialization"
)

// Error is the typed error every Store implementation returns on failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("eventstore: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("eventstore: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTransient reports whether err (or something it wraps) is a Transient
// eventstore.Error. Append's retry loop decides on the underlying Postgres
// error code instead, so an error reported Transient here was not
// necessarily retried.
func IsTransient(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == Transient
	}
	return false
}
