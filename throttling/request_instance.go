/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttling

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/atomic"
)

// Continuation performs the real work of a request (usually, the rest of the pipeline).
type Continuation func(ctx context.Context) error

// Status is an outcome of a RequestInstance.
type Status int32

// Request instance statuses.
const (
	StatusPending Status = iota
	StatusCompleted
	StatusFaulted
	StatusCanceled
	StatusRejected
	StatusDropped
)

// String returns a string representation of the status.
// Implements fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFaulted:
		return "faulted"
	case StatusCanceled:
		return "canceled"
	case StatusRejected:
		return "rejected"
	case StatusDropped:
		return "dropped"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

const (
	stateFresh int32 = iota
	stateDeferred
	stateExecuting
	stateAbandoned
	stateCompleted
)

// PanicError is returned as a result of the instance if its continuation panics.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %+v", e.Value)
}

// ExecutionContext is a snapshot of the ambient context captured when the instance is deferred.
// It's restored before the continuation is invoked.
type ExecutionContext struct {
	Ctx        context.Context
	DeferredAt time.Time
}

// RequestInstanceOpts represents options for creating RequestInstance.
type RequestInstanceOpts struct {
	// IsLocal determines whether the request came from the local machine.
	IsLocal bool

	// IsConnected reports whether the requester is still waiting for the result.
	// By default, the requester is considered connected until ctx is canceled.
	IsConnected func() bool

	// OnReject is called once when the instance is rejected with the busy status.
	OnReject func()
}

// RequestInstance wraps one inbound unit of work.
// It may be executed immediately, or deferred (parked in a queue) and later executed or rejected.
type RequestInstance struct {
	ctx         context.Context
	cont        Continuation
	isLocal     bool
	isConnected func() bool
	onReject    func()
	now         func() time.Time

	state   atomic.Int32
	status  atomic.Int32
	execCtx ExecutionContext
	done    chan struct{}
	err     error
}

// NewRequestInstance creates a new RequestInstance.
func NewRequestInstance(ctx context.Context, cont Continuation, opts RequestInstanceOpts) *RequestInstance {
	return &RequestInstance{
		ctx:         ctx,
		cont:        cont,
		isLocal:     opts.IsLocal,
		isConnected: opts.IsConnected,
		onReject:    opts.OnReject,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// IsLocal returns true if the request came from the local machine.
func (ri *RequestInstance) IsLocal() bool {
	return ri.isLocal
}

// IsConnected returns true if the requester is still waiting for the result.
func (ri *RequestInstance) IsConnected() bool {
	if ri.state.Load() == stateAbandoned {
		return false
	}
	if ri.isConnected != nil {
		return ri.isConnected()
	}
	return ri.ctx.Err() == nil
}

// Defer captures the current execution context and parks the instance,
// so its result will be available only after it's executed or rejected later.
// It does nothing if the instance has already been deferred, executed or completed.
func (ri *RequestInstance) Defer() {
	if ri.state.Load() != stateFresh {
		return
	}
	ri.execCtx = ExecutionContext{Ctx: ri.ctx, DeferredAt: ri.now()}
	ri.state.CompareAndSwap(stateFresh, stateDeferred)
}

// Deferred returns true if the instance is parked and waits for execution.
func (ri *RequestInstance) Deferred() bool {
	return ri.state.Load() == stateDeferred
}

// DeferredAt returns the time when the instance was deferred, or zero time if it never was.
func (ri *RequestInstance) DeferredAt() time.Time {
	if ri.state.Load() == stateFresh {
		return time.Time{}
	}
	return ri.execCtx.DeferredAt
}

// Execute invokes the continuation.
// If the instance was never deferred, the continuation is invoked with the original context.
// Otherwise, the captured execution context is restored before invocation.
// A panic or an error of the continuation is captured as the instance result and never propagates.
// It does nothing and returns false if the instance is already executing, completed or abandoned by the waiter.
func (ri *RequestInstance) Execute() bool {
	if ri.state.CompareAndSwap(stateFresh, stateExecuting) {
		ri.finish(ri.invoke(ri.ctx))
		return true
	}
	if ri.state.CompareAndSwap(stateDeferred, stateExecuting) {
		ri.finish(ri.invoke(ri.execCtx.Ctx))
		return true
	}
	return false
}

// Reject marks the instance as rejected with the busy status and completes it.
// It does nothing if the instance is executing or already completed.
func (ri *RequestInstance) Reject() {
	ri.terminate(StatusRejected)
}

// RejectSilent completes the instance without setting any status visible to the requester.
// It does nothing if the instance is executing or already completed.
func (ri *RequestInstance) RejectSilent() {
	ri.terminate(StatusDropped)
}

// Done returns a channel that is closed when the instance is completed.
func (ri *RequestInstance) Done() <-chan struct{} {
	return ri.done
}

// Err returns the result of the continuation. It's valid only after Done is closed.
func (ri *RequestInstance) Err() error {
	select {
	case <-ri.done:
		return ri.err
	default:
		return nil
	}
}

// Status returns the current status of the instance.
func (ri *RequestInstance) Status() Status {
	return Status(ri.status.Load())
}

// Wait blocks until the instance is completed or ctx is done.
// If ctx is done while the instance is still parked, the instance is abandoned: it will never be executed,
// and ctx.Err() is returned. If the instance is already executing, Wait blocks until the execution finishes,
// so the continuation never outlives the waiter.
func (ri *RequestInstance) Wait(ctx context.Context) error {
	select {
	case <-ri.done:
		return ri.err
	case <-ctx.Done():
	}
	if ri.state.CompareAndSwap(stateDeferred, stateAbandoned) || ri.state.CompareAndSwap(stateFresh, stateAbandoned) {
		return ctx.Err()
	}
	if ri.state.Load() == stateAbandoned {
		return ctx.Err()
	}
	<-ri.done
	return ri.err
}

func (ri *RequestInstance) invoke(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			const stackSize = 8192
			stack := make([]byte, stackSize)
			stack = stack[:runtime.Stack(stack, false)]
			err = &PanicError{Value: p, Stack: stack}
		}
	}()
	return ri.cont(ctx)
}

func (ri *RequestInstance) finish(err error) {
	status := StatusCompleted
	if err != nil {
		status = StatusFaulted
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = StatusCanceled
		}
	}
	ri.complete(err, status)
}

func (ri *RequestInstance) terminate(status Status) bool {
	for {
		prev := ri.state.Load()
		if prev == stateExecuting || prev == stateCompleted {
			return false
		}
		if !ri.state.CompareAndSwap(prev, stateCompleted) {
			continue
		}
		if prev == stateAbandoned {
			status = StatusDropped
		}
		if status == StatusRejected && ri.onReject != nil {
			ri.status.Store(int32(status))
			ri.onReject()
		}
		ri.complete(nil, status)
		return true
	}
}

func (ri *RequestInstance) complete(err error, status Status) {
	ri.err = err
	ri.status.Store(int32(status))
	ri.state.Store(stateCompleted)
	close(ri.done)
}
