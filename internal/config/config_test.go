package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "store:\n  path: /tmp/candles.db\n")

	cfg, err := NewConfigLoader().LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.BufferSize != 1024 {
		t.Fatalf("expected default buffer_size 1024, got %d", cfg.Pipeline.BufferSize)
	}
	if cfg.Pipeline.WaitStrategy != "Yield" {
		t.Fatalf("expected default wait_strategy Yield, got %q", cfg.Pipeline.WaitStrategy)
	}
	if cfg.LateEvent.ToleranceMs != 5000 {
		t.Fatalf("expected default tolerance_ms 5000, got %d", cfg.LateEvent.ToleranceMs)
	}
	if len(cfg.Intervals.Set) != 5 {
		t.Fatalf("expected 5 default intervals, got %d", len(cfg.Intervals.Set))
	}
}

func TestLoadConfigRejectsNonPowerOfTwoBufferSize(t *testing.T) {
	path := writeTempConfig(t, "store:\n  path: /tmp/candles.db\npipeline:\n  buffer_size: 1000\n")
	if _, err := NewConfigLoader().LoadConfig(path); err == nil {
		t.Fatal("expected validation error for non-power-of-two buffer_size")
	}
}

func TestLoadConfigRejectsMissingStorePathOverride(t *testing.T) {
	// store.path defaults when absent, so this should succeed.
	path := writeTempConfig(t, "pipeline:\n  consumers: 2\n")
	cfg, err := NewConfigLoader().LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Path == "" {
		t.Fatal("expected default store path to be populated")
	}
}

func TestAllowedSymbolSetEmptyMeansAllowAll(t *testing.T) {
	cfg := Config{}
	if set := cfg.AllowedSymbolSet(); set != nil {
		t.Fatalf("expected nil set for empty allowlist, got %v", set)
	}
	cfg.Symbols.Allowed = []string{"BTCUSD", "ETHUSD"}
	set := cfg.AllowedSymbolSet()
	if _, ok := set["BTCUSD"]; !ok {
		t.Fatal("expected BTCUSD in allowed set")
	}
}

func TestNotifyDefaultsOnlyAppliedWhenEnabled(t *testing.T) {
	path := writeTempConfig(t, "store:\n  path: /tmp/candles.db\nnotify:\n  enabled: true\n")
	cfg, err := NewConfigLoader().LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.RedisHost != "localhost" || cfg.Notify.RedisPort != 6379 {
		t.Fatalf("expected notify redis defaults, got %+v", cfg.Notify)
	}
}
