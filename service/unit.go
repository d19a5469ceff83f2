/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service provides primitives for composing a long-running process from units
// that are started together and stopped gracefully on OS signals.
package service

// Unit represents a service unit that can be started and stopped.
type Unit interface {
	// Start begins the unit's operation.
	//
	// An implementation may perform initialization and return immediately,
	// or block the calling goroutine for the duration of the unit's lifetime.
	// If Start fails, it writes the error to fatalErr. The channel must not be used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start has failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is an interface for objects that can register its own metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
