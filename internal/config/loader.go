package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigLoader loads and defaults a Config from a YAML file, following the
// teacher's "unmarshal then patch zero-value fields" convention.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (cl *ConfigLoader) LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	// MetricsConfig.Enabled has no YAML-visible "unset" state distinct from
	// false, so it is preset to its default before unmarshalling: a file that
	// omits metrics.enabled keeps it on, and an explicit false turns it off.
	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", filename, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Pipeline.BufferSize == 0 {
		c.Pipeline.BufferSize = 1024
	}
	if c.Pipeline.WaitStrategy == "" {
		c.Pipeline.WaitStrategy = "Yield"
	}
	if c.Pipeline.Consumers == 0 {
		c.Pipeline.Consumers = 1
	}
	if c.LateEvent.ToleranceMs == 0 {
		c.LateEvent.ToleranceMs = 5000
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/candles.db"
	}
	if c.Store.MaxEntries == 0 {
		c.Store.MaxEntries = 10_000_000
	}
	if c.Store.AvgKeySize == 0 {
		c.Store.AvgKeySize = 24
	}
	if c.Store.AvgValueSize == 0 {
		c.Store.AvgValueSize = 40
	}
	if c.Store.SweepEvery == 0 {
		c.Store.SweepEvery = 60_000
	}
	if len(c.Intervals.Set) == 0 {
		c.Intervals.Set = []string{"S1", "S5", "M1", "M15", "H1"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Port == "" {
		c.Metrics.Port = "9090"
	}
	if c.Notify.Enabled {
		if c.Notify.RedisHost == "" {
			c.Notify.RedisHost = "localhost"
		}
		if c.Notify.RedisPort == 0 {
			c.Notify.RedisPort = 6379
		}
		if c.Notify.ChannelPrefix == "" {
			c.Notify.ChannelPrefix = "candlecore:candles"
		}
		if c.Notify.BufferSize == 0 {
			c.Notify.BufferSize = 256
		}
	}
}

// Validate checks the invariants spec.md §6 places on configuration values.
func (c *Config) Validate() error {
	if c.Pipeline.BufferSize <= 0 || c.Pipeline.BufferSize&(c.Pipeline.BufferSize-1) != 0 {
		return fmt.Errorf("pipeline.buffer_size must be a positive power of two, got %d", c.Pipeline.BufferSize)
	}
	switch c.Pipeline.WaitStrategy {
	case "Spin", "Yield", "Sleep", "Block":
	default:
		return fmt.Errorf("pipeline.wait_strategy must be one of Spin|Yield|Sleep|Block, got %q", c.Pipeline.WaitStrategy)
	}
	if c.Pipeline.Consumers < 1 {
		return fmt.Errorf("pipeline.consumers must be >= 1, got %d", c.Pipeline.Consumers)
	}
	if c.LateEvent.ToleranceMs < 0 {
		return fmt.Errorf("late_event.tolerance_ms must be non-negative, got %d", c.LateEvent.ToleranceMs)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	return nil
}

// AllowedSymbolSet returns Symbols.Allowed as a lookup set, or nil if the
// whitelist is empty (meaning "allow all").
func (c *Config) AllowedSymbolSet() map[string]struct{} {
	if len(c.Symbols.Allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(c.Symbols.Allowed))
	for _, s := range c.Symbols.Allowed {
		set[s] = struct{}{}
	}
	return set
}

// RedisAddress formats Notify's Redis host/port as "host:port".
func (n NotifyConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", n.RedisHost, n.RedisPort)
}
