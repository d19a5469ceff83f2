/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestRunLoad(t *testing.T) {
	t.Run("busy server is retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if calls.Inc()%2 == 1 {
				rw.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			rw.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		stats := runLoad(context.Background(), srv.Client(), loadOpts{
			URL: srv.URL, Requests: 4, Concurrency: 1, MaxRetries: 3, InitialInterval: time.Millisecond,
		})
		require.EqualValues(t, 4, stats.Succeeded.Load())
		require.EqualValues(t, 0, stats.Rejected.Load())
		require.EqualValues(t, 0, stats.Failed.Load())
		require.EqualValues(t, 4, stats.Retries.Load())
		require.EqualValues(t, 8, calls.Load())
	})

	t.Run("server stays busy", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			calls.Inc()
			rw.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		stats := runLoad(context.Background(), srv.Client(), loadOpts{
			URL: srv.URL, Requests: 2, Concurrency: 2, MaxRetries: 2, InitialInterval: time.Millisecond,
		})
		require.EqualValues(t, 0, stats.Succeeded.Load())
		require.EqualValues(t, 2, stats.Rejected.Load())
		require.EqualValues(t, 6, calls.Load())
	})

	t.Run("unexpected status is not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			calls.Inc()
			rw.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		stats := runLoad(context.Background(), srv.Client(), loadOpts{
			URL: srv.URL, Requests: 3, Concurrency: 3, MaxRetries: 5, InitialInterval: time.Millisecond,
		})
		require.EqualValues(t, 3, stats.Failed.Load())
		require.EqualValues(t, 0, stats.Retries.Load())
		require.EqualValues(t, 3, calls.Load())
	})
}

func TestRunLoad_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	startTime := time.Now()
	stats := runLoad(context.Background(), srv.Client(), loadOpts{
		URL: srv.URL, Requests: 3, Concurrency: 3, RPS: 20, InitialInterval: time.Millisecond,
	})
	require.EqualValues(t, 3, stats.Succeeded.Load())
	require.GreaterOrEqual(t, time.Since(startTime), time.Millisecond*90)
}

func TestLoadCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"load", "-n", "0"})
	require.ErrorContains(t, cmd.Execute(), "requests and concurrency should be positive")
}
