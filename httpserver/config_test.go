/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-admission/config"
)

type AppConfig struct {
	Server *Config `mapstructure:"server" json:"server" yaml:"server"`
}

func TestConfig(t *testing.T) {
	expectedCfg := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Address = "127.0.0.1:8080"
		cfg.Timeouts.Write = config.TimeDuration(time.Hour)
		cfg.Timeouts.Read = config.TimeDuration(time.Minute * 7)
		cfg.Timeouts.ReadHeader = config.TimeDuration(time.Minute)
		cfg.Timeouts.Idle = config.TimeDuration(time.Minute * 20)
		cfg.Timeouts.Shutdown = config.TimeDuration(time.Second * 30)
		cfg.Limits.MaxBodySize = 1024 * 1024
		cfg.Log.RequestStart = true
		cfg.TLS.Enabled = true
		cfg.TLS.Certificate = "/test/path"
		cfg.TLS.Key = "/test/path"
		cfg.Throttling.ActiveThreadsPerCPUBeforeRemoteRequestsQueue = 2
		cfg.Throttling.ActiveThreadsPerCPUBeforeLocalRequestsQueue = 4
		cfg.Throttling.RequestQueueLimitBeforeServerTooBusyResponse = 100
		cfg.Throttling.DrainInterval = config.TimeDuration(time.Second)
		return cfg
	}

	tests := []struct {
		name        string
		cfgDataType config.DataType
		cfgData     string
	}{
		{
			name:        "yaml config",
			cfgDataType: config.DataTypeYAML,
			cfgData: `
server:
  address: "127.0.0.1:8080"
  timeouts:
    write: 1h
    read: 7m
    readHeader: 1m
    idle: 20m
    shutdown: 30s
  limits:
    maxBodySize: 1M
  log:
    requestStart: true
  tls:
    enabled: true
    cert: "/test/path"
    key: "/test/path"
  throttling:
    activeThreadsPerCpuBeforeRemoteRequestsQueue: 2
    activeThreadsPerCpuBeforeLocalRequestsQueue: 4
    requestQueueLimitBeforeServerTooBusyResponse: 100
    drainInterval: 1s
`,
		},
		{
			name:        "json config",
			cfgDataType: config.DataTypeJSON,
			cfgData: `
{
	"server": {
		"address": "127.0.0.1:8080",
		"timeouts": {
			"write": "1h",
			"read": "7m",
			"readHeader": "1m",
			"idle": "20m",
			"shutdown": "30s"
		},
		"limits": {
			"maxBodySize": "1M"
		},
		"log": {
			"requestStart": true
		},
		"tls": {
			"enabled": true,
			"cert": "/test/path",
			"key": "/test/path"
		},
		"throttling": {
			"activeThreadsPerCpuBeforeRemoteRequestsQueue": 2,
			"activeThreadsPerCpuBeforeLocalRequestsQueue": 4,
			"requestQueueLimitBeforeServerTooBusyResponse": 100,
			"drainInterval": "1s"
		}
	}
}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Load config using config.Loader.
			appCfg := AppConfig{Server: NewConfig()}
			expectedAppCfg := AppConfig{Server: expectedCfg()}
			cfgLoader := config.NewLoader(config.NewViperAdapter())
			err := cfgLoader.LoadFromReader(bytes.NewBufferString(tt.cfgData), tt.cfgDataType, appCfg.Server)
			require.NoError(t, err)
			require.Equal(t, expectedAppCfg, appCfg)

			// Load config using viper unmarshal.
			appCfg = AppConfig{Server: NewDefaultConfig()}
			vpr := viper.New()
			vpr.SetConfigType(string(tt.cfgDataType))
			require.NoError(t, vpr.ReadConfig(bytes.NewBufferString(tt.cfgData)))
			require.NoError(t, vpr.Unmarshal(&appCfg, func(c *mapstructure.DecoderConfig) {
				c.DecodeHook = mapstructure.TextUnmarshallerHookFunc()
			}))
			require.Equal(t, expectedAppCfg, appCfg)

			// Load config using yaml/json unmarshal.
			appCfg = AppConfig{Server: NewDefaultConfig()}
			switch tt.cfgDataType {
			case config.DataTypeYAML:
				require.NoError(t, yaml.Unmarshal([]byte(tt.cfgData), &appCfg))
			case config.DataTypeJSON:
				require.NoError(t, json.Unmarshal([]byte(tt.cfgData), &appCfg))
			default:
				t.Fatalf("unsupported config data type: %s", tt.cfgDataType)
			}
			require.Equal(t, expectedAppCfg, appCfg)
		})
	}
}

func TestNewDefaultConfig(t *testing.T) {
	// Empty config, all defaults for the data provider should be used.
	cfg := NewConfig()
	require.NoError(t, config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer(nil), config.DataTypeYAML, cfg))
	require.Equal(t, NewDefaultConfig(), cfg)

	cfg = NewDefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(""), &cfg))
	require.Equal(t, NewDefaultConfig(), cfg)

	cfg = NewDefaultConfig()
	require.NoError(t, json.Unmarshal([]byte("{}"), &cfg))
	require.Equal(t, NewDefaultConfig(), cfg)
}

func TestWithKeyPrefix(t *testing.T) {
	cfgData := `
customServer:
  address: "127.0.0.1:9999"
  throttling:
    enabled: false
`
	expectedCfg := NewDefaultConfig(WithKeyPrefix("customServer"))
	expectedCfg.Address = "127.0.0.1:9999"
	expectedCfg.Throttling.Enabled = false

	cfg := NewConfig(WithKeyPrefix("customServer"))
	err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
		bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, expectedCfg, cfg)
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name           string
		yamlData       string
		expectedErrMsg string
	}{
		{
			name: "invalid address",
			yamlData: `
server:
  address: []
`,
			expectedErrMsg: `server.address: unable to cast`,
		},
		{
			name: "tls without key",
			yamlData: `
server:
  tls:
    enabled: true
    cert: "/test/path"
`,
			expectedErrMsg: `server.tls.key: both cert and key should be set`,
		},
		{
			name: "invalid max body size",
			yamlData: `
server:
  limits:
    maxBodySize: -1
`,
			expectedErrMsg: `server.limits.maxBodySize: negative value is not allowed`,
		},
		{
			name: "local threshold below remote one",
			yamlData: `
server:
  throttling:
    activeThreadsPerCpuBeforeRemoteRequestsQueue: 10
    activeThreadsPerCpuBeforeLocalRequestsQueue: 5
`,
			expectedErrMsg: `should not be less than before remote requests queue`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.yamlData), config.DataTypeYAML, cfg)
			require.ErrorContains(t, err, tt.expectedErrMsg)
		})
	}
}
