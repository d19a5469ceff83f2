/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-admission/log"
	"github.com/acronis/go-admission/log/logtest"
	"github.com/acronis/go-admission/restapi"
	"github.com/acronis/go-admission/testutil"
	"github.com/acronis/go-admission/throttling"
)

type mockRecoveryNextHandler struct {
	called     int
	panicValue interface{}
}

func (h *mockRecoveryNextHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.called++
	if h.panicValue != nil {
		panic(h.panicValue)
	}
	panic("test")
}

func TestRecoveryHandler_ServeHTTP(t *testing.T) {
	const errDomain = "MainDomain"

	t.Run("recovery w/o logging", func(t *testing.T) {
		next := &mockRecoveryNextHandler{}
		resp := httptest.NewRecorder()
		handler := Recovery(errDomain)(next)

		require.NotPanics(t, func() { handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil)) })
		require.Equal(t, 1, next.called)
		testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, errDomain, restapi.ErrCodeInternal)
	})

	t.Run("recovery with logging", func(t *testing.T) {
		const stackSize = 10
		next := &mockRecoveryNextHandler{}
		logger := logtest.NewRecorder()

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(NewContextWithLogger(req.Context(), logger))
		resp := httptest.NewRecorder()
		handler := RecoveryWithOpts(errDomain, RecoveryOpts{StackSize: stackSize})(next)

		require.NotPanics(t, func() { handler.ServeHTTP(resp, req) })
		testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, errDomain, restapi.ErrCodeInternal)

		entry, found := logger.FindEntry("Panic: test")
		require.True(t, found)
		require.Equal(t, log.LevelError, entry.Level)
		logField, found := entry.FindField("stack")
		require.True(t, found)
		require.Equal(t, stackSize, len(logField.Bytes))
	})

	t.Run("panic of deferred request keeps original stack", func(t *testing.T) {
		next := &mockRecoveryNextHandler{panicValue: &throttling.PanicError{Value: "deferred", Stack: []byte("original stack")}}
		logger := logtest.NewRecorder()

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(NewContextWithLogger(req.Context(), logger))
		resp := httptest.NewRecorder()
		require.NotPanics(t, func() { Recovery(errDomain)(next).ServeHTTP(resp, req) })

		entry, found := logger.FindEntry("Panic: deferred")
		require.True(t, found)
		logField, found := entry.FindField("stack")
		require.True(t, found)
		require.Equal(t, "original stack", string(logField.Bytes))
	})

	t.Run("http.ErrAbortHandler is propagated", func(t *testing.T) {
		for _, panicValue := range []interface{}{
			http.ErrAbortHandler,
			&throttling.PanicError{Value: http.ErrAbortHandler},
		} {
			next := &mockRecoveryNextHandler{panicValue: panicValue}
			logger := logtest.NewRecorder()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(NewContextWithLogger(req.Context(), logger))
			handler := Recovery(errDomain)(next)

			require.PanicsWithValue(t, http.ErrAbortHandler, func() { handler.ServeHTTP(httptest.NewRecorder(), req) })
			entry, found := logger.FindEntry("request has been aborted")
			require.True(t, found)
			require.Equal(t, log.LevelWarn, entry.Level)
		}
	})
}
