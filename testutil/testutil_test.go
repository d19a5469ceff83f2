/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockT struct {
	failed bool
}

func (t *mockT) FailNow() {
	t.failed = true
}

func (t *mockT) Errorf(format string, args ...interface{}) {}

func TestRequireNoErrorInChannel(t *testing.T) {
	mt := &mockT{}
	ch := make(chan error, 1)

	RequireNoErrorInChannel(mt, ch)
	require.False(t, mt.failed)

	ch <- errors.New("some error")
	RequireNoErrorInChannel(mt, ch)
	require.True(t, mt.failed)
}

func TestRequireErrorInRecorder(t *testing.T) {
	resp := httptest.NewRecorder()
	resp.Header().Set("Content-Type", contentTypeAppJSON)
	resp.WriteHeader(http.StatusServiceUnavailable)
	_, err := resp.WriteString(`{"error":{"domain":"MyService","code":"serverTooBusy"}}`)
	require.NoError(t, err)

	RequireErrorInRecorder(t, resp, http.StatusServiceUnavailable, "MyService", "serverTooBusy")
}

func TestRequireServerTooBusyInRecorder(t *testing.T) {
	resp := httptest.NewRecorder()
	resp.Header().Set("Content-Type", contentTypeAppJSON)
	resp.WriteHeader(http.StatusServiceUnavailable)
	_, err := resp.WriteString(`{"error":{"domain":"MyService","code":"serverTooBusy"}}`)
	require.NoError(t, err)
	RequireServerTooBusyInRecorder(t, resp, "MyService")

	mt := &mockT{}
	resp = httptest.NewRecorder()
	resp.Header().Set("Content-Type", contentTypeAppJSON)
	resp.WriteHeader(http.StatusInternalServerError)
	_, err = resp.WriteString(`{"error":{"domain":"MyService","code":"internalError"}}`)
	require.NoError(t, err)
	RequireServerTooBusyInRecorder(mt, resp, "MyService")
	require.True(t, mt.failed)
}

func TestWaitListeningServer(t *testing.T) {
	require.Error(t, WaitListeningServer(GetLocalAddrWithFreeTCPPort(), time.Millisecond*50))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { require.NoError(t, ln.Close()) }()
	require.NoError(t, WaitListeningServer(ln.Addr().String(), time.Second))
}
