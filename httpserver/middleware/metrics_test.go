/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequestMetricsHandler_ServeHTTP(t *testing.T) {
	collector := NewHTTPRequestMetricsCollector("")

	router := chi.NewRouter()
	router.Use(HTTPRequestMetrics(collector, GetChiRoutePattern, "/healthz"))
	router.Get("/items/{id}", func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, 1.0, testutil.ToFloat64(collector.InFlight.WithLabelValues(http.MethodGet)))
		rw.WriteHeader(http.StatusNoContent)
	})
	router.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {})
	router.Get("/panic", func(rw http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	for _, path := range []string{"/items/1", "/items/2", "/healthz"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	require.Panics(t, func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/panic", nil))
	})

	require.Equal(t, 2, testutil.CollectAndCount(collector.Durations))
	require.Equal(t, 0.0, testutil.ToFloat64(collector.InFlight.WithLabelValues(http.MethodGet)))
	require.True(t, collector.Durations.Delete(map[string]string{
		httpRequestMetricsLabelMethod:       http.MethodGet,
		httpRequestMetricsLabelRoutePattern: "/items/{id}",
		httpRequestMetricsLabelStatusCode:   "204",
	}))
	require.True(t, collector.Durations.Delete(map[string]string{
		httpRequestMetricsLabelMethod:       http.MethodGet,
		httpRequestMetricsLabelRoutePattern: "/panic",
		httpRequestMetricsLabelStatusCode:   "500",
	}))
}
