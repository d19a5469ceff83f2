/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package threading

import (
	"io"
	"time"
)

// Callback is a function that is scheduled on the shared pool.
type Callback func(state interface{})

// Services abstracts the shared pool of workers.
type Services interface {
	// AvailableThreads returns the current number of free worker and IO threads.
	AvailableThreads() Counts

	// MaxThreads returns the configured pool ceiling.
	MaxThreads() Counts

	// QueueCallback schedules fn(state) to run on the shared pool.
	// No ambient context is passed to fn. While fn runs, it occupies one worker thread,
	// so it's included in the busy count that AvailableThreads reports.
	QueueCallback(fn Callback, state interface{})

	// TimerCallback invokes fn every interval until the returned handle is closed.
	TimerCallback(interval time.Duration, fn func()) io.Closer
}

// ActiveThreads returns the number of busy threads reported by the services,
// using the larger of worker and IO utilization.
func ActiveThreads(s Services) int {
	return s.MaxThreads().Sub(s.AvailableThreads()).Greatest()
}

// ActiveThreadsExcept works like ActiveThreads, but doesn't count the threads held by the caller itself
// (e.g. the worker slot of a callback which is running on the pool).
func ActiveThreadsExcept(s Services, own Counts) int {
	busy := s.MaxThreads().Sub(s.AvailableThreads()).Sub(own)
	if busy.Worker < 0 {
		busy.Worker = 0
	}
	if busy.IO < 0 {
		busy.IO = 0
	}
	return busy.Greatest()
}
