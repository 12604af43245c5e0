package es

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Identifier identifies one aggregate instance. It keys locks, snapshot
// counters and event partitions, so it must stay immutable.
type Identifier string

// NewIdentifier returns a random UUID-backed identifier.
func NewIdentifier() Identifier { return Identifier(uuid.NewString()) }

// ParseUUIDIdentifier validates s as a UUID and returns its canonical form.
func ParseUUIDIdentifier(s string) (Identifier, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: identifier %q is not a uuid: %w", ErrIllegalArgument, s, err)
	}
	return Identifier(u.String()), nil
}

func (id Identifier) String() string      { return string(id) }
func (id Identifier) IsZero() bool        { return id == "" }
func (id Identifier) SlogAttr() slog.Attr { return slog.String("id", string(id)) }
