/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttling

import (
	"fmt"
	"time"

	"github.com/acronis/go-admission/config"
	"github.com/acronis/go-admission/threading"
)

const cfgDefaultKeyPrefix = "throttling"

const (
	cfgKeyEnabled                   = "enabled"
	cfgKeyActiveThreadsBeforeRemote = "activeThreadsPerCpuBeforeRemoteRequestsQueue"
	cfgKeyActiveThreadsBeforeLocal  = "activeThreadsPerCpuBeforeLocalRequestsQueue"
	cfgKeyRequestQueueLimit         = "requestQueueLimitBeforeServerTooBusyResponse"
	cfgKeyDrainInterval             = "drainInterval"
	cfgKeyMaxQueueResidency         = "maxQueueResidency"
	cfgKeyMaxWorkers                = "maxWorkers"
	cfgKeyMaxIO                     = "maxIO"
)

// Config represents a set of configuration parameters for the request queue and its pool.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	ActiveThreadsPerCPUBeforeRemoteRequestsQueue int `mapstructure:"activeThreadsPerCpuBeforeRemoteRequestsQueue" yaml:"activeThreadsPerCpuBeforeRemoteRequestsQueue" json:"activeThreadsPerCpuBeforeRemoteRequestsQueue"` // nolint: lll
	ActiveThreadsPerCPUBeforeLocalRequestsQueue  int `mapstructure:"activeThreadsPerCpuBeforeLocalRequestsQueue" yaml:"activeThreadsPerCpuBeforeLocalRequestsQueue" json:"activeThreadsPerCpuBeforeLocalRequestsQueue"`    // nolint: lll
	RequestQueueLimitBeforeServerTooBusyResponse int `mapstructure:"requestQueueLimitBeforeServerTooBusyResponse" yaml:"requestQueueLimitBeforeServerTooBusyResponse" json:"requestQueueLimitBeforeServerTooBusyResponse"` // nolint: lll

	DrainInterval     config.TimeDuration `mapstructure:"drainInterval" yaml:"drainInterval" json:"drainInterval"`
	MaxQueueResidency config.TimeDuration `mapstructure:"maxQueueResidency" yaml:"maxQueueResidency" json:"maxQueueResidency"`

	// MaxWorkers and MaxIO are ceilings of the pool which is used for observing saturation.
	// Zero values mean threading.DefaultMaxThreadsPerCPU per CPU.
	MaxWorkers int `mapstructure:"maxWorkers" yaml:"maxWorkers" json:"maxWorkers"`
	MaxIO      int `mapstructure:"maxIO" yaml:"maxIO" json:"maxIO"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	c := NewConfig(options...)
	c.Enabled = true
	c.ActiveThreadsPerCPUBeforeRemoteRequestsQueue = DefaultActiveThreadsPerCPUBeforeRemoteRequestsQueue
	c.ActiveThreadsPerCPUBeforeLocalRequestsQueue = DefaultActiveThreadsPerCPUBeforeLocalRequestsQueue
	c.RequestQueueLimitBeforeServerTooBusyResponse = DefaultRequestQueueLimitBeforeServerTooBusyResponse
	c.DrainInterval = config.TimeDuration(DefaultDrainInterval)
	return c
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, true)
	dp.SetDefault(cfgKeyActiveThreadsBeforeRemote, DefaultActiveThreadsPerCPUBeforeRemoteRequestsQueue)
	dp.SetDefault(cfgKeyActiveThreadsBeforeLocal, DefaultActiveThreadsPerCPUBeforeLocalRequestsQueue)
	dp.SetDefault(cfgKeyRequestQueueLimit, DefaultRequestQueueLimitBeforeServerTooBusyResponse)
	dp.SetDefault(cfgKeyDrainInterval, DefaultDrainInterval)
	dp.SetDefault(cfgKeyMaxQueueResidency, time.Duration(0))
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}
	if c.ActiveThreadsPerCPUBeforeRemoteRequestsQueue, err = dp.GetInt(cfgKeyActiveThreadsBeforeRemote); err != nil {
		return err
	}
	if c.ActiveThreadsPerCPUBeforeLocalRequestsQueue, err = dp.GetInt(cfgKeyActiveThreadsBeforeLocal); err != nil {
		return err
	}
	if c.RequestQueueLimitBeforeServerTooBusyResponse, err = dp.GetInt(cfgKeyRequestQueueLimit); err != nil {
		return err
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyDrainInterval); err != nil {
		return err
	}
	c.DrainInterval = config.TimeDuration(dur)
	if dur, err = dp.GetDuration(cfgKeyMaxQueueResidency); err != nil {
		return err
	}
	c.MaxQueueResidency = config.TimeDuration(dur)

	if c.MaxWorkers, err = dp.GetNonNegativeInt(cfgKeyMaxWorkers); err != nil {
		return err
	}
	if c.MaxIO, err = dp.GetNonNegativeInt(cfgKeyMaxIO); err != nil {
		return err
	}

	return c.Validate()
}

// Validate validates configuration.
func (c *Config) Validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("%s: should not be negative, got %d", cfgKeyMaxWorkers, c.MaxWorkers)
	}
	if c.MaxIO < 0 {
		return fmt.Errorf("%s: should not be negative, got %d", cfgKeyMaxIO, c.MaxIO)
	}
	opts := c.Options(nil)
	return opts.validateLimits()
}

// Options converts the configuration into queue Options for the given threading services.
func (c *Config) Options(services threading.Services) Options {
	return Options{
		ActiveThreadsPerCPUBeforeRemoteRequestsQueue: c.ActiveThreadsPerCPUBeforeRemoteRequestsQueue,
		ActiveThreadsPerCPUBeforeLocalRequestsQueue:  c.ActiveThreadsPerCPUBeforeLocalRequestsQueue,
		RequestQueueLimitBeforeServerTooBusyResponse: c.RequestQueueLimitBeforeServerTooBusyResponse,
		ThreadingServices: services,
		DrainInterval:     time.Duration(c.DrainInterval),
		MaxQueueResidency: time.Duration(c.MaxQueueResidency),
	}
}

// PoolOpts converts the pool configuration into threading.PoolOpts.
func (c *Config) PoolOpts() threading.PoolOpts {
	return threading.PoolOpts{MaxWorkers: c.MaxWorkers, MaxIO: c.MaxIO}
}
