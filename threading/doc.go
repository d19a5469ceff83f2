/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package threading provides an abstraction over a shared pool of workers
// which is used by the throttling package to observe saturation and to schedule callbacks.
//
// Go has no shared OS thread pool that request handlers borrow from, so Pool models it explicitly:
// goroutines that run pipeline work are accounted as busy "worker threads" (see Pool.TrackWorker),
// and goroutines blocked on I/O on behalf of the pipeline may be accounted as busy "IO threads" (see Pool.TrackIO).
package threading
