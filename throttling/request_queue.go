/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttling

import (
	"container/list"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/threading"
)

// maxScheduledDrains bounds the number of drain callbacks that may be pending on the pool at the same time.
const maxScheduledDrains = 2

// drainSlot is the pool slot taken by a running drain callback.
// It's excluded from saturation, so the drain doesn't see itself as load.
var drainSlot = threading.Counts{Worker: 1}

// Log fields for RequestQueue.
const (
	LogFieldQueueLimit    = "request_queue_limit"
	LogFieldActiveThreads = "active_threads"
	LogFieldLocal         = "request_local"
)

// RequestQueue is an admission-control engine. For every arriving request it decides
// whether the request is executed immediately, parked in one of two FIFO queues (local and remote),
// or rejected with the busy status. Parked requests are drained as the pool capacity frees up,
// and local requests are always preferred over remote ones.
type RequestQueue struct {
	services        threading.Services
	remoteThreshold int
	localThreshold  int
	queueLimit      int
	drainInterval   time.Duration
	maxResidency    time.Duration
	metrics         *MetricsCollector
	logger          log.FieldLogger
	overloadLogRate *rate.Limiter
	now             func() time.Time

	mu     sync.Mutex
	local  *list.List
	remote *list.List
	count  int

	scheduled atomic.Int32
	stopping  atomic.Bool

	timerMu sync.Mutex
	timer   io.Closer
}

// NewRequestQueue creates a new RequestQueue.
func NewRequestQueue(opts Options, logger log.FieldLogger) (*RequestQueue, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validate options: %w", err)
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	cpus := opts.cpuCount()
	q := &RequestQueue{
		services:        opts.ThreadingServices,
		remoteThreshold: opts.ActiveThreadsPerCPUBeforeRemoteRequestsQueue * cpus,
		localThreshold:  opts.ActiveThreadsPerCPUBeforeLocalRequestsQueue * cpus,
		queueLimit:      opts.RequestQueueLimitBeforeServerTooBusyResponse,
		drainInterval:   opts.drainInterval(),
		maxResidency:    opts.MaxQueueResidency,
		metrics:         opts.MetricsCollector,
		logger:          logger,
		overloadLogRate: rate.NewLimiter(rate.Every(time.Second), 1),
		now:             time.Now,
		local:           list.New(),
		remote:          list.New(),
	}
	q.metrics.setQueueLength(0, 0)
	return q, nil
}

// Start begins the periodic timer that re-checks the queue as a safety net against missed wake-ups.
func (q *RequestQueue) Start() {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.timer != nil || q.stopping.Load() {
		return
	}
	q.timer = q.services.TimerCallback(q.drainInterval, q.onTimer)
	q.logger.Info("request queue started",
		log.Int("remote_threshold", q.remoteThreshold),
		log.Int("local_threshold", q.localThreshold),
		log.Int(LogFieldQueueLimit, q.queueLimit),
		log.Duration("drain_interval", q.drainInterval),
	)
}

// Stop disposes the timer, so no further drains will be executed.
// Requests which are still parked are rejected with the busy status (or dropped, if their requesters are gone).
// Requests which are already executing are not affected.
func (q *RequestQueue) Stop() {
	if !q.stopping.CompareAndSwap(false, true) {
		return
	}

	q.timerMu.Lock()
	if q.timer != nil {
		_ = q.timer.Close() // Timer handles never fail on close.
		q.timer = nil
	}
	q.timerMu.Unlock()

	var parked []*RequestInstance
	q.mu.Lock()
	for _, l := range [...]*list.List{q.local, q.remote} {
		for e := l.Front(); e != nil; e = e.Next() {
			parked = append(parked, e.Value.(*RequestInstance))
		}
		l.Init()
	}
	q.count = 0
	q.metrics.setQueueLength(0, 0)
	q.mu.Unlock()

	for _, ri := range parked {
		q.rejectParked(ri, OutcomeRejectedStopped)
	}
	q.logger.Info("request queue stopped", log.Int("rejected_parked_requests", len(parked)))
}

// Len returns the number of parked local and remote requests.
func (q *RequestQueue) Len() (local, remote int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.local.Len(), q.remote.Len()
}

// GetInstanceToExecute is called once per arriving request and returns:
//   - the same instance, if it should be executed immediately by the caller;
//   - another (previously parked) instance, which the caller should execute instead, while ri stays parked;
//   - nil, if ri has been parked or rejected, and the caller has nothing to execute.
//
// In all cases, the caller may wait for the result of ri using RequestInstance.Wait.
func (q *RequestQueue) GetInstanceToExecute(ri *RequestInstance) *RequestInstance {
	active := q.activeThreads(threading.Counts{})

	q.mu.Lock()
	if q.count == 0 && active < q.remoteThreshold {
		q.mu.Unlock()
		q.metrics.incRequests(OutcomeDirect)
		return ri
	}
	if q.stopping.Load() {
		q.mu.Unlock()
		ri.Reject()
		q.metrics.incRequests(OutcomeRejectedStopped)
		return nil
	}
	if q.count >= q.queueLimit {
		count := q.count
		q.mu.Unlock()
		q.rejectOverloaded(ri, count, active)
		return nil
	}
	ri.Defer()
	if ri.IsLocal() {
		q.local.PushBack(ri)
	} else {
		q.remote.PushBack(ri)
	}
	q.count++
	q.metrics.setQueueLength(q.local.Len(), q.remote.Len())
	q.mu.Unlock()

	var next *RequestInstance
	if active < q.remoteThreshold {
		next = q.dequeueInstance(false)
	} else if active < q.localThreshold {
		next = q.dequeueInstance(true)
	}
	if next != nil {
		q.metrics.incRequests(OutcomeDequeuedInline)
		return next
	}

	q.scheduleExecuteIfNeeded(threading.Counts{})
	return nil
}

// dequeueInstance pops the oldest local instance, falling back to remote ones if localOnly is false.
// Disconnected instances are dropped silently, and instances that stayed in the queue for too long are rejected.
func (q *RequestQueue) dequeueInstance(localOnly bool) *RequestInstance {
	for {
		ri := q.pop(localOnly)
		if ri == nil {
			return nil
		}
		if !ri.IsConnected() {
			ri.RejectSilent()
			q.metrics.incRequests(OutcomeDroppedDisconnected)
			continue
		}
		waited := q.now().Sub(ri.DeferredAt())
		if q.maxResidency > 0 && waited > q.maxResidency {
			q.rejectParked(ri, OutcomeRejectedResidency)
			continue
		}
		q.metrics.observeQueueWait(waited)
		return ri
	}
}

func (q *RequestQueue) pop(localOnly bool) *RequestInstance {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.local.Front()
	if e != nil {
		q.local.Remove(e)
	} else if !localOnly {
		if e = q.remote.Front(); e != nil {
			q.remote.Remove(e)
		}
	}
	if e == nil {
		return nil
	}
	q.count--
	q.metrics.setQueueLength(q.local.Len(), q.remote.Len())
	return e.Value.(*RequestInstance)
}

// scheduleExecuteIfNeeded asks the pool to run a drain, unless the queue is stopping or empty,
// enough drains are already scheduled, or the pool is saturated even for local requests.
// own is what the caller itself holds in the pool and is not counted as load.
func (q *RequestQueue) scheduleExecuteIfNeeded(own threading.Counts) {
	if q.stopping.Load() || q.isEmpty() || q.scheduled.Load() >= maxScheduledDrains {
		return
	}
	if q.activeThreads(own) >= q.localThreshold {
		return
	}
	q.scheduled.Inc()
	q.services.QueueCallback(q.executeIfNeeded, nil)
}

// executeIfNeeded is a drain callback. It executes one parked instance and re-arms another drain.
func (q *RequestQueue) executeIfNeeded(_ interface{}) {
	q.scheduled.Dec()

	if q.stopping.Load() || q.isEmpty() {
		return
	}
	active := q.activeThreads(drainSlot)
	if active >= q.localThreshold {
		return
	}
	ri := q.dequeueInstance(active >= q.remoteThreshold)
	if ri == nil {
		return
	}

	q.scheduleExecuteIfNeeded(drainSlot)

	if !ri.Execute() {
		// The waiter has gone after the instance was dequeued.
		ri.RejectSilent()
		q.metrics.incRequests(OutcomeDroppedDisconnected)
		return
	}
	q.metrics.incRequests(OutcomeDrained)
}

func (q *RequestQueue) onTimer() {
	q.expireParked()
	q.scheduleExecuteIfNeeded(threading.Counts{})
}

// expireParked removes abandoned instances and instances which exceeded the max queue residency.
func (q *RequestQueue) expireParked() {
	var abandoned, expired []*RequestInstance
	now := q.now()

	q.mu.Lock()
	for _, l := range [...]*list.List{q.local, q.remote} {
		for e := l.Front(); e != nil; {
			next := e.Next()
			ri := e.Value.(*RequestInstance)
			switch {
			case !ri.IsConnected():
				abandoned = append(abandoned, ri)
			case q.maxResidency > 0 && now.Sub(ri.DeferredAt()) > q.maxResidency:
				expired = append(expired, ri)
			default:
				e = next
				continue
			}
			l.Remove(e)
			q.count--
			e = next
		}
	}
	q.metrics.setQueueLength(q.local.Len(), q.remote.Len())
	q.mu.Unlock()

	for _, ri := range abandoned {
		ri.RejectSilent()
		q.metrics.incRequests(OutcomeDroppedDisconnected)
	}
	for _, ri := range expired {
		q.rejectParked(ri, OutcomeRejectedResidency)
	}
	if len(expired) > 0 {
		q.logger.Warn("parked requests exceeded max queue residency and were rejected",
			log.Int("rejected_requests", len(expired)), log.Duration("max_queue_residency", q.maxResidency))
	}
}

func (q *RequestQueue) rejectOverloaded(ri *RequestInstance, count, active int) {
	ri.Reject()
	q.metrics.incRequests(OutcomeRejectedOverload)
	if q.overloadLogRate.Allow() {
		q.logger.Warn("request queue limit is reached, request is rejected",
			log.Int(LogFieldQueueLimit, q.queueLimit),
			log.Int("request_queue_count", count),
			log.Int(LogFieldActiveThreads, active),
			log.Bool(LogFieldLocal, ri.IsLocal()),
		)
	}
}

func (q *RequestQueue) rejectParked(ri *RequestInstance, outcome Outcome) {
	if !ri.IsConnected() {
		ri.RejectSilent()
		q.metrics.incRequests(OutcomeDroppedDisconnected)
		return
	}
	ri.Reject()
	q.metrics.incRequests(outcome)
}

func (q *RequestQueue) isEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == 0
}

func (q *RequestQueue) activeThreads(own threading.Counts) int {
	active := threading.ActiveThreadsExcept(q.services, own)
	q.metrics.setActiveThreads(active)
	return active
}
