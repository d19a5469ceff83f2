/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package threading

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/service"
)

// DefaultMaxThreadsPerCPU determines the default pool ceiling (for both worker and IO threads) per CPU.
const DefaultMaxThreadsPerCPU = 100

// PoolOpts represents options for Pool.
type PoolOpts struct {
	// MaxWorkers is a ceiling of worker threads. DefaultMaxThreadsPerCPU * runtime.NumCPU() is used if 0.
	MaxWorkers int
	// MaxIO is a ceiling of IO threads. DefaultMaxThreadsPerCPU * runtime.NumCPU() is used if 0.
	MaxIO int
	// Logger is used for reporting panics in callbacks and timer lifecycle. Disabled logger is used if nil.
	Logger log.FieldLogger
}

// Pool is a Services implementation that accounts goroutines doing pipeline work.
// Callbacks scheduled with QueueCallback run in their own goroutines and are counted as busy workers
// for their whole duration.
type Pool struct {
	max         Counts
	busyWorkers atomic.Int32
	busyIO      atomic.Int32
	wg          sync.WaitGroup
	logger      log.FieldLogger
}

var _ Services = (*Pool)(nil)

// NewPool creates a new Pool.
func NewPool(opts PoolOpts) (*Pool, error) {
	if opts.MaxWorkers < 0 {
		return nil, fmt.Errorf("max workers should not be negative, got %d", opts.MaxWorkers)
	}
	if opts.MaxIO < 0 {
		return nil, fmt.Errorf("max IO threads should not be negative, got %d", opts.MaxIO)
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = DefaultMaxThreadsPerCPU * runtime.NumCPU()
	}
	if opts.MaxIO == 0 {
		opts.MaxIO = DefaultMaxThreadsPerCPU * runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Pool{max: Counts{Worker: opts.MaxWorkers, IO: opts.MaxIO}, logger: opts.Logger}, nil
}

// MaxThreads returns the pool ceiling.
func (p *Pool) MaxThreads() Counts {
	return p.max
}

// AvailableThreads returns the number of free worker and IO threads. Values never go below zero.
func (p *Pool) AvailableThreads() Counts {
	return Counts{
		Worker: clampAvailable(p.max.Worker, int(p.busyWorkers.Load())),
		IO:     clampAvailable(p.max.IO, int(p.busyIO.Load())),
	}
}

// Busy returns the number of currently busy worker and IO threads.
func (p *Pool) Busy() Counts {
	return Counts{Worker: int(p.busyWorkers.Load()), IO: int(p.busyIO.Load())}
}

// TrackWorker marks the calling goroutine as a busy worker until the returned function is called.
func (p *Pool) TrackWorker() (release func()) {
	return track(&p.busyWorkers)
}

// TrackIO marks the calling goroutine as a busy IO thread until the returned function is called.
func (p *Pool) TrackIO() (release func()) {
	return track(&p.busyIO)
}

// QueueCallback runs fn(state) in a new goroutine which is counted as a busy worker.
// A panic in fn is logged and doesn't crash the process.
func (p *Pool) QueueCallback(fn Callback, state interface{}) {
	release := p.TrackWorker()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer release()
		defer func() {
			if r := recover(); r != nil {
				const logStackSize = 8192
				stack := make([]byte, logStackSize)
				stack = stack[:runtime.Stack(stack, false)]
				p.logger.Error(fmt.Sprintf("panic in pool callback: %+v", r), log.Bytes("stack", stack))
			}
		}()
		fn(state)
	}()
}

// TimerCallback invokes fn every interval until the returned handle is closed.
// Closing the handle waits for the running invocation (if any) to finish,
// so it must not be closed from fn itself.
func (p *Pool) TimerCallback(interval time.Duration, fn func()) io.Closer {
	worker := service.NewPeriodicWorkerWithOpts(service.WorkerFunc(func(ctx context.Context) error {
		fn()
		return nil
	}), interval, p.logger, service.PeriodicWorkerOpts{InitialDelay: interval})

	ctx, cancel := context.WithCancel(context.Background())
	h := &timerHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		_ = worker.Run(ctx) // Error is always nil, fn never fails.
	}()
	return h
}

// Wait blocks until all goroutines started by QueueCallback finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

type timerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (h *timerHandle) Close() error {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
	return nil
}

func track(counter *atomic.Int32) func() {
	counter.Inc()
	var once sync.Once
	return func() {
		once.Do(func() { counter.Dec() })
	}
}

func clampAvailable(maxVal, busy int) int {
	if busy >= maxVal {
		return 0
	}
	return maxVal - busy
}
