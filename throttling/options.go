/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttling

import (
	"fmt"
	"runtime"
	"time"

	"github.com/acronis/go-admission/threading"
)

// Default values of queue options.
const (
	DefaultActiveThreadsPerCPUBeforeRemoteRequestsQueue = 8
	DefaultActiveThreadsPerCPUBeforeLocalRequestsQueue  = 16
	DefaultRequestQueueLimitBeforeServerTooBusyResponse = 5000
	DefaultDrainInterval                                = 10 * time.Second
)

// Options represents options for RequestQueue.
type Options struct {
	// ActiveThreadsPerCPUBeforeRemoteRequestsQueue is a number of active threads per CPU
	// starting from which remote requests are queued instead of being executed immediately. Must be positive.
	ActiveThreadsPerCPUBeforeRemoteRequestsQueue int

	// ActiveThreadsPerCPUBeforeLocalRequestsQueue is a number of active threads per CPU
	// starting from which local requests are queued too. Must not be less than the remote threshold.
	ActiveThreadsPerCPUBeforeLocalRequestsQueue int

	// RequestQueueLimitBeforeServerTooBusyResponse is a maximum number of queued requests.
	// Requests arriving when the queue is full are rejected with the busy status.
	RequestQueueLimitBeforeServerTooBusyResponse int

	// ThreadingServices provides pool saturation and schedules drains. Required.
	ThreadingServices threading.Services

	// CPUCount is a multiplier for per-CPU thresholds. runtime.NumCPU() is used if 0.
	CPUCount int

	// DrainInterval is an interval of the safety-net timer that re-checks the queue.
	// DefaultDrainInterval is used if 0.
	DrainInterval time.Duration

	// MaxQueueResidency limits how long a request may stay in the queue before it's rejected with the busy status.
	// 0 means no limit.
	MaxQueueResidency time.Duration

	// MetricsCollector is used for collecting queue metrics. May be nil.
	MetricsCollector *MetricsCollector
}

// NewDefaultOptions returns options with default thresholds for the given threading services.
func NewDefaultOptions(services threading.Services) Options {
	return Options{
		ActiveThreadsPerCPUBeforeRemoteRequestsQueue: DefaultActiveThreadsPerCPUBeforeRemoteRequestsQueue,
		ActiveThreadsPerCPUBeforeLocalRequestsQueue:  DefaultActiveThreadsPerCPUBeforeLocalRequestsQueue,
		RequestQueueLimitBeforeServerTooBusyResponse: DefaultRequestQueueLimitBeforeServerTooBusyResponse,
		ThreadingServices: services,
	}
}

// Validate checks that options are consistent.
func (o *Options) Validate() error {
	if o.ThreadingServices == nil {
		return fmt.Errorf("threading services should be specified")
	}
	return o.validateLimits()
}

func (o *Options) validateLimits() error {
	if o.ActiveThreadsPerCPUBeforeRemoteRequestsQueue < 1 {
		return fmt.Errorf("active threads per CPU before remote requests queue should be positive, got %d",
			o.ActiveThreadsPerCPUBeforeRemoteRequestsQueue)
	}
	if o.ActiveThreadsPerCPUBeforeLocalRequestsQueue < o.ActiveThreadsPerCPUBeforeRemoteRequestsQueue {
		return fmt.Errorf("active threads per CPU before local requests queue (%d) "+
			"should not be less than before remote requests queue (%d)",
			o.ActiveThreadsPerCPUBeforeLocalRequestsQueue, o.ActiveThreadsPerCPUBeforeRemoteRequestsQueue)
	}
	if o.RequestQueueLimitBeforeServerTooBusyResponse < 0 {
		return fmt.Errorf("request queue limit should not be negative, got %d",
			o.RequestQueueLimitBeforeServerTooBusyResponse)
	}
	if o.CPUCount < 0 {
		return fmt.Errorf("CPU count should not be negative, got %d", o.CPUCount)
	}
	if o.DrainInterval < 0 {
		return fmt.Errorf("drain interval should not be negative, got %s", o.DrainInterval)
	}
	if o.MaxQueueResidency < 0 {
		return fmt.Errorf("max queue residency should not be negative, got %s", o.MaxQueueResidency)
	}
	return nil
}

func (o *Options) cpuCount() int {
	if o.CPUCount == 0 {
		return runtime.NumCPU()
	}
	return o.CPUCount
}

func (o *Options) drainInterval() time.Duration {
	if o.DrainInterval == 0 {
		return DefaultDrainInterval
	}
	return o.DrainInterval
}
