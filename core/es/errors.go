package es

import (
	"errors"
	"fmt"
)

var (
	// ErrAggregateNotFound is returned when a load finds neither events nor a snapshot.
	ErrAggregateNotFound = errors.New("aggregate not found")
	// ErrEventStreamNotFound is returned by the store for an unknown (type, identifier).
	ErrEventStreamNotFound = errors.New("event stream not found")
	// ErrConcurrency marks write conflicts: a duplicate sequence number or a failed lock validation.
	ErrConcurrency = errors.New("concurrent modification")
	// ErrConflictingAggregateVersion is returned when the expected version is already stale.
	ErrConflictingAggregateVersion = errors.New("conflicting aggregate version")
	// ErrConflictingModification is raised by conflict resolvers.
	ErrConflictingModification = errors.New("conflicting modification")
	ErrIllegalState            = errors.New("illegal state")
	ErrIllegalArgument         = errors.New("illegal argument")
	ErrNoSuchElement           = errors.New("no such element")
	ErrUnknownEventType        = errors.New("unknown event type")
	ErrSnapshotCorrupt         = errors.New("snapshot corrupt")
)

// NewConcurrencyError reports a write conflict on one event of an aggregate.
func NewConcurrencyError(id Identifier, seq int64, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: aggregate %s, sequence %d", ErrConcurrency, id, seq)
	}
	return fmt.Errorf("%w: aggregate %s, sequence %d: %w", ErrConcurrency, id, seq, cause)
}
