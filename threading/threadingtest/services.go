/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package threadingtest provides a deterministic threading.Services implementation for tests.
package threadingtest

import (
	"io"
	"sync"
	"time"

	"github.com/acronis/go-admission/threading"
)

type queuedCallback struct {
	fn    threading.Callback
	state interface{}
}

type timer struct {
	owner    *Services
	interval time.Duration
	fn       func()
	closed   bool
}

func (t *timer) Close() error {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	t.closed = true
	return nil
}

// Services is a fake threading.Services. Thread counts are set explicitly,
// queued callbacks are recorded and run only by RunQueued, and timers fire only by FireTimers.
// A callback takes one worker thread while it runs, as on the real pool.
type Services struct {
	mu        sync.Mutex
	max       threading.Counts
	available threading.Counts
	running   int
	queued    []queuedCallback
	timers    []*timer
}

var _ threading.Services = (*Services)(nil)

// NewServices creates a new fake with the given ceiling and all threads available.
func NewServices(maxThreads threading.Counts) *Services {
	return &Services{max: maxThreads, available: maxThreads}
}

// SetActive sets available threads so that the active count (max - available) equals the given values.
func (s *Services) SetActive(active threading.Counts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = s.max.Sub(active)
}

// AvailableThreads implements threading.Services.
func (s *Services) AvailableThreads() threading.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	available := s.available
	available.Worker -= s.running
	if available.Worker < 0 {
		available.Worker = 0
	}
	return available
}

// MaxThreads implements threading.Services.
func (s *Services) MaxThreads() threading.Counts {
	return s.max
}

// QueueCallback records the callback. It runs only when RunQueued is called.
func (s *Services) QueueCallback(fn threading.Callback, state interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, queuedCallback{fn: fn, state: state})
}

// TimerCallback records the timer. It fires only when FireTimers is called.
func (s *Services) TimerCallback(interval time.Duration, fn func()) io.Closer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &timer{owner: s, interval: interval, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// QueuedCallbacks returns the number of callbacks waiting to be run.
func (s *Services) QueuedCallbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

// RunQueued runs all recorded callbacks (including ones queued while running) and returns how many were run.
func (s *Services) RunQueued() int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.queued) == 0 {
			s.mu.Unlock()
			return n
		}
		cb := s.queued[0]
		s.queued = s.queued[1:]
		s.mu.Unlock()

		s.run(cb)
		n++
	}
}

// RunOneQueued runs the oldest recorded callback. It returns false if there was none.
func (s *Services) RunOneQueued() bool {
	s.mu.Lock()
	if len(s.queued) == 0 {
		s.mu.Unlock()
		return false
	}
	cb := s.queued[0]
	s.queued = s.queued[1:]
	s.mu.Unlock()

	s.run(cb)
	return true
}

func (s *Services) run(cb queuedCallback) {
	s.mu.Lock()
	s.running++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()
	cb.fn(cb.state)
}

// FireTimers invokes every open timer once.
func (s *Services) FireTimers() {
	s.mu.Lock()
	var fns []func()
	for _, t := range s.timers {
		if !t.closed {
			fns = append(fns, t.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// OpenTimers returns the number of timers which are not closed yet.
func (s *Services) OpenTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.closed {
			n++
		}
	}
	return n
}

// TimerInterval returns the interval of the i-th registered timer.
func (s *Services) TimerInterval(i int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i].interval
}
