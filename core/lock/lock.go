// Package lock provides the per-aggregate locking strategies used by the
// locking repository.
//
// Locks are scoped to one process. Cross-process write conflicts are left to
// the uniqueness constraint of the event store.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/heianxing/axon-demo/core/es"
)

// Manager guards aggregates against concurrent modification.
type Manager interface {
	// ObtainLock acquires the lock for id on behalf of the owner in ctx.
	ObtainLock(ctx context.Context, id es.Identifier) error
	// ReleaseLock releases one acquisition of the lock for id.
	ReleaseLock(ctx context.Context, id es.Identifier) error
	// ValidateLock reports whether agg may be saved by the owner in ctx.
	ValidateLock(ctx context.Context, agg es.Aggregate) bool
}

// Strategy selects a Manager implementation.
type Strategy int

const (
	Pessimistic Strategy = iota
	Optimistic
	NoLocking
)

func (s Strategy) String() string {
	switch s {
	case Pessimistic:
		return "PESSIMISTIC"
	case Optimistic:
		return "OPTIMISTIC"
	case NoLocking:
		return "NO_LOCKING"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy accepts the names returned by String, case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_") {
	case "PESSIMISTIC":
		return Pessimistic, nil
	case "OPTIMISTIC":
		return Optimistic, nil
	case "NO_LOCKING", "NONE":
		return NoLocking, nil
	}
	return 0, fmt.Errorf("%w: unknown locking strategy %q", es.ErrIllegalArgument, s)
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// New returns the Manager for a strategy.
func New(strategy Strategy, opts ...Option) (Manager, error) {
	switch strategy {
	case Pessimistic:
		return NewPessimistic(opts...), nil
	case Optimistic:
		return NewOptimistic(opts...), nil
	case NoLocking:
		return NoLockManager{}, nil
	}
	return nil, fmt.Errorf("%w: unknown locking strategy %d", es.ErrIllegalArgument, int(strategy))
}

type (
	valueOption[T any] struct{ v T }

	lockOpts struct {
		log     *slog.Logger
		metrics es.Metrics
	}

	Option interface{ applyToLock(*lockOpts) }

	LogOption     valueOption[*slog.Logger]
	MetricsOption valueOption[es.Metrics]
)

func WithLog(l *slog.Logger) LogOption       { return LogOption{v: l} }
func WithMetrics(m es.Metrics) MetricsOption { return MetricsOption{v: m} }

func (o LogOption) applyToLock(l *lockOpts)     { l.log = o.v }
func (o MetricsOption) applyToLock(l *lockOpts) { l.metrics = o.v }

func newOpts(opts ...Option) lockOpts {
	options := lockOpts{log: slog.Default(), metrics: es.NopMetrics()}
	for _, opt := range opts {
		opt.applyToLock(&options)
	}
	return options
}
