/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/restapi"
	"github.com/acronis/go-admission/throttling"
)

// RecoveryDefaultStackSize defines the default size of stack part which will be logged.
const RecoveryDefaultStackSize = 8192

// RecoveryOpts represents an options for Recovery middleware.
type RecoveryOpts struct {
	StackSize int
}

type recoveryHandler struct {
	next        http.Handler
	errorDomain string
	opts        RecoveryOpts
}

// Recovery is a middleware that recovers from panics, logs the panic value and a stacktrace,
// returns 500 HTTP status code and error in body in right format.
// Panics of deferred requests which were executed on other goroutines are re-raised by Throttling middleware
// as *throttling.PanicError, and the stack of the original goroutine is logged for them.
func Recovery(errDomain string) func(next http.Handler) http.Handler {
	return RecoveryWithOpts(errDomain, RecoveryOpts{StackSize: RecoveryDefaultStackSize})
}

// RecoveryWithOpts is a more configurable version of Recovery middleware.
func RecoveryWithOpts(errDomain string, opts RecoveryOpts) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &recoveryHandler{next: next, errorDomain: errDomain, opts: opts}
	}
}

func (h *recoveryHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		logger := GetLoggerFromContext(r.Context())

		var panicErr *throttling.PanicError
		if err, ok := p.(error); ok && errors.As(err, &panicErr) && panicErr.Value == http.ErrAbortHandler {
			p = panicErr.Value
		}
		if p == http.ErrAbortHandler {
			// ErrAbortHandler is a sentinel panic for aborting a handler, http.Server doesn't log it.
			if logger != nil {
				logger.Warn("request has been aborted", log.Error(http.ErrAbortHandler))
			}
			panic(p)
		}

		if logger != nil {
			var logFields []log.Field
			if h.opts.StackSize != 0 {
				logFields = append(logFields, log.Bytes("stack", h.panicStack(panicErr)))
			}
			value := p
			if panicErr != nil {
				value = panicErr.Value
			}
			logger.Error(fmt.Sprintf("Panic: %+v", value), logFields...)
		}

		restapi.RespondError(rw, http.StatusInternalServerError, restapi.NewInternalError(h.errorDomain), logger)
	}()

	h.next.ServeHTTP(rw, r)
}

func (h *recoveryHandler) panicStack(panicErr *throttling.PanicError) []byte {
	if panicErr != nil && len(panicErr.Stack) != 0 {
		if len(panicErr.Stack) > h.opts.StackSize {
			return panicErr.Stack[:h.opts.StackSize]
		}
		return panicErr.Stack
	}
	stack := make([]byte, h.opts.StackSize)
	return stack[:runtime.Stack(stack, false)]
}
