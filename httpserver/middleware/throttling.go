/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
	"github.com/acronis/go-admission/throttling"
)

// WorkerTracker accounts goroutines which do pipeline work (usually it's *threading.Pool).
type WorkerTracker interface {
	TrackWorker() (release func())
}

// ThrottlingOnRejectFunc is a function that is called for writing a response when the request is rejected.
type ThrottlingOnRejectFunc func(rw http.ResponseWriter, r *http.Request, errDomain string)

// ThrottlingOpts represents an options for Throttling middleware.
type ThrottlingOpts struct {
	// IsLocal determines whether the request came from the local machine.
	// Local requests are preferred over remote ones when the server is busy.
	// By default, requests from loopback addresses are considered local.
	IsLocal func(r *http.Request) bool

	// WorkerTracker is used for accounting the handler goroutine as a busy worker while it executes requests.
	// Should be the same pool that is used by the queue for observing saturation.
	WorkerTracker WorkerTracker

	// GetRetryAfter returns a value for the Retry-After response header. The header is not sent if it's nil.
	GetRetryAfter func(r *http.Request) time.Duration

	// OnReject writes a response for the rejected request. DefaultThrottlingOnReject is used if nil.
	OnReject ThrottlingOnRejectFunc
}

type throttlingHandler struct {
	next        http.Handler
	queue       *throttling.RequestQueue
	errorDomain string
	opts        ThrottlingOpts
}

// Throttling is a middleware that passes every request through the admission queue.
// When the server is saturated, the request is parked and executed later (maybe on another goroutine),
// and when the queue is full, it's rejected with 503 HTTP status code.
func Throttling(queue *throttling.RequestQueue, errDomain string) func(next http.Handler) http.Handler {
	return ThrottlingWithOpts(queue, errDomain, ThrottlingOpts{})
}

// ThrottlingWithOpts is a more configurable version of Throttling middleware.
func ThrottlingWithOpts(
	queue *throttling.RequestQueue, errDomain string, opts ThrottlingOpts,
) func(next http.Handler) http.Handler {
	if queue == nil {
		panic("request queue cannot be nil")
	}
	if opts.IsLocal == nil {
		opts.IsLocal = IsLoopbackRequest
	}
	if opts.OnReject == nil {
		opts.OnReject = DefaultThrottlingOnReject
	}
	return func(next http.Handler) http.Handler {
		return &throttlingHandler{next: next, queue: queue, errorDomain: errDomain, opts: opts}
	}
}

func (h *throttlingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var ri *throttling.RequestInstance
	ri = throttling.NewRequestInstance(r.Context(), func(ctx context.Context) error {
		if deferredAt := ri.DeferredAt(); !deferredAt.IsZero() {
			wait := time.Since(deferredAt)
			ctx = NewContextWithQueueWait(ctx, wait)
			if lp := GetLoggingParamsFromContext(ctx); lp != nil {
				lp.ExtendFields(log.Bool("throttling_deferred", true))
				lp.AddTimeSlotDurationInMs("queue_wait_ms", wait)
			}
		}
		h.next.ServeHTTP(rw, r.WithContext(ctx))
		return nil
	}, throttling.RequestInstanceOpts{IsLocal: h.opts.IsLocal(r)})

	// Only the execution is accounted as busy work, the request being admitted must not count against itself.
	if next := h.queue.GetInstanceToExecute(ri); next != nil {
		release := h.trackWorker()
		next.Execute()
		release()
	}

	err := ri.Wait(r.Context())
	var panicErr *throttling.PanicError
	if errors.As(err, &panicErr) {
		if panicErr.Value == http.ErrAbortHandler {
			panic(http.ErrAbortHandler)
		}
		panic(panicErr)
	}

	logger := GetLoggerFromContext(r.Context())
	switch ri.Status() {
	case throttling.StatusRejected:
		if logger != nil {
			logger.Warn("request is rejected by throttling, server is too busy",
				log.Bool(throttling.LogFieldLocal, ri.IsLocal()))
		}
		if h.opts.GetRetryAfter != nil {
			restapi.SetRetryAfter(rw, h.opts.GetRetryAfter(r))
		}
		h.opts.OnReject(rw, r, h.errorDomain)
	case throttling.StatusDropped, throttling.StatusPending:
		// The client has gone while the request was parked, nobody reads the response.
		if logger != nil {
			logger.Debug("parked request is dropped, client is disconnected", log.Error(err))
		}
	}
}

func (h *throttlingHandler) trackWorker() func() {
	if h.opts.WorkerTracker == nil {
		return func() {}
	}
	return h.opts.WorkerTracker.TrackWorker()
}

// DefaultThrottlingOnReject sends HTTP response with 503 status code and the serverTooBusy error in the body.
func DefaultThrottlingOnReject(rw http.ResponseWriter, r *http.Request, errDomain string) {
	restapi.RespondServerTooBusy(rw, errDomain, GetLoggerFromContext(r.Context()))
}

// IsLoopbackRequest returns true if the request came from a loopback address.
func IsLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
