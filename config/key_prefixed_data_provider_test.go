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

const testPrefixedServerConfigYAML = `
server:
  address: ":8080"
  throttling:
    maxIO: 16
    maxWorkers: -1
    drainInterval: 5s
`

func TestKeyPrefixedDataProvider_NestedPrefixes(t *testing.T) {
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(testPrefixedServerConfigYAML), DataTypeYAML))

	var serverDP DataProvider = NewKeyPrefixedDataProvider(va, "server")
	addr, err := serverDP.GetString("address")
	require.NoError(t, err)
	require.Equal(t, ":8080", addr)

	var throttlingDP DataProvider = NewKeyPrefixedDataProvider(serverDP, "throttling")
	require.True(t, throttlingDP.IsSet("maxIO"))
	require.False(t, throttlingDP.IsSet("address"))

	maxIO, err := throttlingDP.GetNonNegativeInt("maxIO")
	require.NoError(t, err)
	require.Equal(t, 16, maxIO)

	_, err = throttlingDP.GetNonNegativeInt("maxWorkers")
	require.EqualError(t, err, "server.throttling.maxWorkers: negative value is not allowed: -1")

	drainInterval, err := throttlingDP.GetDuration("drainInterval")
	require.NoError(t, err)
	require.Equal(t, time.Second*5, drainInterval)

	throttlingDP.SetDefault("requestQueueLimit", 5000)
	limit, err := va.GetInt("server.throttling.requestQueueLimit")
	require.NoError(t, err)
	require.Equal(t, 5000, limit)

	require.EqualError(t, throttlingDP.WrapKeyErr("maxIO", errTest), "server.throttling.maxIO: test error")
}

func TestKeyPrefixedDataProvider_Unmarshal(t *testing.T) {
	type throttlingCfg struct {
		MaxIO      int `mapstructure:"maxIO"`
		MaxWorkers int `mapstructure:"maxWorkers"`
	}

	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(testPrefixedServerConfigYAML), DataTypeYAML))
	dp := NewKeyPrefixedDataProvider(va, "server.throttling")

	var cfg throttlingCfg
	require.NoError(t, dp.Unmarshal(&cfg))
	require.Equal(t, 16, cfg.MaxIO)
	require.Equal(t, -1, cfg.MaxWorkers)

	var maxIO int
	require.NoError(t, dp.UnmarshalKey("maxIO", &maxIO))
	require.Equal(t, 16, maxIO)
}
