/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestByteSize_UnmarshalText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"integer", "4096", ByteSize(4096), false},
		{"human-readable", "20MB", ByteSize(20 * 1024 * 1024), false},
		{"k8s-like suffix", "1Mi", ByteSize(1024 * 1024), false},
		{"empty", "", ByteSize(0), false},
		{"invalid format", "invalid", 0, true},
		{"negative", "-1024", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b ByteSize
			err := b.UnmarshalText([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, b)
		})
	}
}

func TestByteSize_UnmarshalJSONAndYAML(t *testing.T) {
	var jsonCfg struct {
		MaxBodySize ByteSize `json:"maxBodySize"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"maxBodySize":"10M"}`), &jsonCfg))
	require.Equal(t, ByteSize(10*1024*1024), jsonCfg.MaxBodySize)
	require.NoError(t, json.Unmarshal([]byte(`{"maxBodySize":1024}`), &jsonCfg))
	require.Equal(t, ByteSize(1024), jsonCfg.MaxBodySize)
	require.Error(t, json.Unmarshal([]byte(`{"maxBodySize":"-1"}`), &jsonCfg))

	var yamlCfg struct {
		MaxBodySize ByteSize `yaml:"maxBodySize"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("maxBodySize: 2Gi"), &yamlCfg))
	require.Equal(t, ByteSize(2*1024*1024*1024), yamlCfg.MaxBodySize)
	require.Error(t, yaml.Unmarshal([]byte("maxBodySize: lots"), &yamlCfg))
}

func TestByteSize_Marshal(t *testing.T) {
	b := ByteSize(1024 * 1024)
	require.Equal(t, "1M", b.String())

	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.Equal(t, `"1M"`, string(data))

	data, err = yaml.Marshal(b)
	require.NoError(t, err)
	require.Equal(t, "1M\n", string(data))
}

func TestTimeDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TimeDuration
		wantErr bool
	}{
		{"integer nanoseconds", "1000", TimeDuration(time.Microsecond), false},
		{"human-readable", "1m30s", TimeDuration(time.Second * 90), false},
		{"invalid format", "soon", 0, true},
		{"negative integer", "-1000", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d TimeDuration
			err := d.UnmarshalText([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d)
		})
	}
}

func TestTimeDuration_UnmarshalJSONAndYAML(t *testing.T) {
	var jsonCfg struct {
		DrainInterval TimeDuration `json:"drainInterval"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"drainInterval":"10s"}`), &jsonCfg))
	require.Equal(t, TimeDuration(time.Second*10), jsonCfg.DrainInterval)
	require.Error(t, json.Unmarshal([]byte(`{"drainInterval":"often"}`), &jsonCfg))

	var yamlCfg struct {
		MaxQueueResidency TimeDuration `yaml:"maxQueueResidency"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("maxQueueResidency: 250ms"), &yamlCfg))
	require.Equal(t, TimeDuration(time.Millisecond*250), yamlCfg.MaxQueueResidency)
}

func TestTimeDuration_Marshal(t *testing.T) {
	d := TimeDuration(time.Second * 5)
	require.Equal(t, "5s", d.String())

	data, err := json.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, `"5s"`, string(data))

	data, err = yaml.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, "5s\n", string(data))
}
