/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package throttling provides an adaptive admission-control queue for request pipelines.
//
// RequestQueue observes saturation of the pool (see threading.Services) and for every arriving request
// decides whether it runs immediately, waits in one of two FIFO queues (local requests are preferred
// over remote ones), or is rejected with the busy status when the queue is full.
// Parked requests are executed later by a bounded number of drain callbacks scheduled on the pool,
// and by the handlers of newly arriving requests when capacity allows.
package throttling
