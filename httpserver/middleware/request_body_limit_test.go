/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-admission/testutil"
)

type mockRequestBodyLimitNextHandler struct {
	called  int
	readErr error
	body    []byte
}

func (h *mockRequestBodyLimitNextHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.called++
	h.body, h.readErr = io.ReadAll(r.Body)
}

func TestRequestBodyLimitHandler_ServeHTTP(t *testing.T) {
	const errDomain = "MyService"
	const maxSize = 10

	t.Run("body within limit", func(t *testing.T) {
		next := &mockRequestBodyLimitNextHandler{}
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("0123456789"))
		resp := httptest.NewRecorder()
		RequestBodyLimit(maxSize, errDomain)(next).ServeHTTP(resp, req)

		require.Equal(t, 1, next.called)
		require.NoError(t, next.readErr)
		require.Equal(t, "0123456789", string(next.body))
	})

	t.Run("content length exceeds limit", func(t *testing.T) {
		next := &mockRequestBodyLimitNextHandler{}
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("0123456789A"))
		resp := httptest.NewRecorder()
		RequestBodyLimit(maxSize, errDomain)(next).ServeHTTP(resp, req)

		require.Equal(t, 0, next.called)
		testutil.RequireErrorInRecorder(t, resp, http.StatusRequestEntityTooLarge, errDomain, ErrCodeRequestEntityTooLarge)
	})

	t.Run("unknown content length exceeds limit", func(t *testing.T) {
		next := &mockRequestBodyLimitNextHandler{}
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("0123456789ABCDEF"))
		req.ContentLength = -1
		resp := httptest.NewRecorder()
		RequestBodyLimit(maxSize, errDomain)(next).ServeHTTP(resp, req)

		require.Equal(t, 1, next.called)
		var maxBytesErr *http.MaxBytesError
		require.True(t, errors.As(next.readErr, &maxBytesErr))
	})
}
