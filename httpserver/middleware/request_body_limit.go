/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"

	"github.com/acronis/go-admission/config"
	"github.com/acronis/go-admission/restapi"
)

// ErrCodeRequestEntityTooLarge is an error code for requests with too large body.
const ErrCodeRequestEntityTooLarge = "requestEntityTooLarge"

type requestBodyLimitHandler struct {
	next        http.Handler
	maxSize     config.ByteSize
	errorDomain string
}

// RequestBodyLimit is a middleware that sets the maximum allowed size for a request body.
// Requests with larger Content-Length are rejected with 413 before the body is read,
// and reading beyond the limit fails for requests with unknown length.
func RequestBodyLimit(maxSize config.ByteSize, errDomain string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &requestBodyLimitHandler{next: next, maxSize: maxSize, errorDomain: errDomain}
	}
}

func (h *requestBodyLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.ContentLength > int64(h.maxSize) { //nolint:gosec // limit is a reasonable value
		restapi.RespondError(rw, http.StatusRequestEntityTooLarge, restapi.NewError(h.errorDomain,
			ErrCodeRequestEntityTooLarge, fmt.Sprintf("Request body must not exceed %s.", h.maxSize)),
			GetLoggerFromContext(r.Context()))
		return
	}
	if r.Body != nil {
		r.Body = http.MaxBytesReader(rw, r.Body, int64(h.maxSize)) //nolint:gosec // limit is a reasonable value
	}
	h.next.ServeHTTP(rw, r)
}
