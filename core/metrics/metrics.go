// Package metrics provides abstract metrics interfaces so the core packages
// stay independent of an instrumentation backend.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes, typically deferred:
//
//	defer m.StoreReadDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
