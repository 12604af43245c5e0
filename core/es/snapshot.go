package es

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

type (
	// SnapshotPayload is the payload of a snapshot event. State holds the
	// complete aggregate state as of the snapshot's sequence number.
	SnapshotPayload struct {
		AggregateType string `json:"aggregate_type"`
		State         []byte `json:"state"`
		Checksum      string `json:"checksum"`
	}

	// Snapshottable lets an aggregate control its snapshot encoding. Other
	// aggregates are snapshotted with encoding/json.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}
)

// NewSnapshotEvent captures the state of a to-date aggregate. The snapshot
// takes the sequence number of the last persisted event.
func NewSnapshotEvent(a Aggregate) (Event, error) {
	if len(a.Uncommitted()) > 0 {
		return Event{}, fmt.Errorf("%w: aggregate %s has uncommitted events", ErrIllegalState, a.AggregateID())
	}
	if !a.Version().IsSet() {
		return Event{}, fmt.Errorf("%w: aggregate %s was never persisted", ErrIllegalState, a.AggregateID())
	}

	var (
		state []byte
		err   error
	)
	if s, ok := a.(Snapshottable); ok {
		state, err = s.Snapshot()
	} else {
		state, err = json.Marshal(a)
	}
	if err != nil {
		return Event{}, fmt.Errorf("snapshot aggregate %s: %w", a.AggregateID(), err)
	}

	return NewEvent(a.AggregateID(), a.Version().Int64(), &SnapshotPayload{
		AggregateType: a.AggregateType(),
		State:         state,
		Checksum:      checksum(state),
	}), nil
}

// Verify checks the state against its checksum.
func (p *SnapshotPayload) Verify() error {
	if p.Checksum != checksum(p.State) {
		return fmt.Errorf("%w: checksum mismatch for %s", ErrSnapshotCorrupt, p.AggregateType)
	}
	return nil
}

func (p *SnapshotPayload) restore(a Aggregate) error {
	if err := p.Verify(); err != nil {
		return err
	}
	if s, ok := a.(Snapshottable); ok {
		return s.RestoreSnapshot(p.State)
	}
	return json.Unmarshal(p.State, a)
}

func checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
