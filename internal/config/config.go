// Package config defines the candle engine's deployer-facing configuration
// surface (spec.md §6) plus the ambient stack (logging, metrics, optional
// notify) the teacher's own services always carry regardless of domain.
//
// Grounded on the teacher's internal/config/config.go: a single nested
// struct tree with yaml tags, loaded via gopkg.in/yaml.v3 and then patched
// with defaults for zero-value fields (see loader.go).
package config

// Config is the root configuration object.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	LateEvent LateEventConfig `yaml:"late_event"`
	Store     StoreConfig     `yaml:"store"`
	Intervals IntervalsConfig `yaml:"intervals"`
	Symbols   SymbolsConfig   `yaml:"symbols"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// PipelineConfig configures the ring-buffer event pipeline (C7).
type PipelineConfig struct {
	BufferSize   int    `yaml:"buffer_size"`   // positive power of two; default 1024
	WaitStrategy string `yaml:"wait_strategy"` // Spin|Yield|Sleep|Block; default Yield
	Consumers    int    `yaml:"consumers"`     // >= 1; default 1
}

// LateEventConfig configures late-event tolerance (C1/C4).
type LateEventConfig struct {
	ToleranceMs int64 `yaml:"tolerance_ms"` // non-negative; default 5000
}

// StoreConfig configures the durable candle store (C5).
type StoreConfig struct {
	Path         string `yaml:"path"`
	MaxEntries   int64  `yaml:"max_entries"`    // sizing hint; default 10_000_000
	AvgKeySize   int    `yaml:"avg_key_size"`   // sizing hint
	AvgValueSize int    `yaml:"avg_value_size"` // sizing hint
	// RetentionMs, if > 0, bounds how long completed candles are retained;
	// the retention sweep worker deletes candles older than now-RetentionMs.
	// 0 means "retain forever" — this engine's Non-goals exclude a mandated
	// retention policy, so disabled-by-default matches spec.md's scope.
	RetentionMs int64 `yaml:"retention_ms"`
	SweepEvery  int64 `yaml:"sweep_interval_ms"`
}

// IntervalsConfig is fixed by spec.md §6 to {S1,S5,M1,M15,H1}; present only
// so deployers can see the fixed set reflected in the config file they edit,
// not because it is actually configurable.
type IntervalsConfig struct {
	Set []string `yaml:"set"`
}

// SymbolsConfig optionally whitelists accepted symbols.
type SymbolsConfig struct {
	Allowed []string `yaml:"allowed"`
}

// LoggingConfig configures the ambient zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error; default info
}

// MetricsConfig configures the Prometheus metrics HTTP server (C8).
type MetricsConfig struct {
	Port    string `yaml:"port"`    // default "9090"
	Enabled bool   `yaml:"enabled"` // default true
}

// NotifyConfig optionally enables the Redis candle-completion publisher.
// Disabled by default: it is a supplemented feature, not part of the core.
type NotifyConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisDB       int    `yaml:"redis_db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
	MaxPerSecond  int    `yaml:"max_per_second"`
}
