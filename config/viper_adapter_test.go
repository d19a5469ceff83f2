/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testQueueConfigYAML = `
throttling:
  enabled: true
  requestQueueLimitBeforeServerTooBusyResponse: 100
  maxWorkers: -4
  drainInterval: 2s
  mode: Adaptive
  excludedEndpoints:
    - /metrics
    - /healthz
limits:
  maxBodySize: 1Mi
  maxHeaderSize: 4096
`

func newTestViperAdapter(t *testing.T) *ViperAdapter {
	t.Helper()
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(testQueueConfigYAML), DataTypeYAML))
	return va
}

func TestViperAdapter_Getters(t *testing.T) {
	va := newTestViperAdapter(t)

	enabled, err := va.GetBool("throttling.enabled")
	require.NoError(t, err)
	require.True(t, enabled)

	limit, err := va.GetInt("throttling.requestQueueLimitBeforeServerTooBusyResponse")
	require.NoError(t, err)
	require.Equal(t, 100, limit)

	drainInterval, err := va.GetDuration("throttling.drainInterval")
	require.NoError(t, err)
	require.Equal(t, time.Second*2, drainInterval)

	endpoints, err := va.GetStringSlice("throttling.excludedEndpoints")
	require.NoError(t, err)
	require.Equal(t, []string{"/metrics", "/healthz"}, endpoints)

	missing, err := va.GetStringSlice("throttling.missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	maxBodySize, err := va.GetByteSize("limits.maxBodySize")
	require.NoError(t, err)
	require.Equal(t, ByteSize(1024*1024), maxBodySize)

	maxHeaderSize, err := va.GetByteSize("limits.maxHeaderSize")
	require.NoError(t, err)
	require.Equal(t, ByteSize(4096), maxHeaderSize)
}

func TestViperAdapter_GetNonNegativeInt(t *testing.T) {
	va := newTestViperAdapter(t)

	limit, err := va.GetNonNegativeInt("throttling.requestQueueLimitBeforeServerTooBusyResponse")
	require.NoError(t, err)
	require.Equal(t, 100, limit)

	_, err = va.GetNonNegativeInt("throttling.maxWorkers")
	require.EqualError(t, err, "throttling.maxWorkers: negative value is not allowed: -4")

	_, err = va.GetNonNegativeInt("throttling.drainInterval")
	require.ErrorContains(t, err, "throttling.drainInterval: unable to cast")
}

func TestViperAdapter_GetStringFromSet(t *testing.T) {
	va := newTestViperAdapter(t)

	mode, err := va.GetStringFromSet("throttling.mode", []string{"adaptive", "static"}, true)
	require.NoError(t, err)
	require.Equal(t, "Adaptive", mode)

	_, err = va.GetStringFromSet("throttling.mode", []string{"adaptive", "static"}, false)
	require.EqualError(t, err, `throttling.mode: unknown value "Adaptive", should be one of [adaptive static]`)
}

func TestViperAdapter_UseEnvVars(t *testing.T) {
	t.Setenv("ADM_THROTTLING_MAXWORKERS", "64")

	va := newTestViperAdapter(t)
	va.UseEnvVars("ADM")

	maxWorkers, err := va.GetNonNegativeInt("throttling.maxWorkers")
	require.NoError(t, err)
	require.Equal(t, 64, maxWorkers)
}
