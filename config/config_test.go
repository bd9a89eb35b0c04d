package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsInMockMode(t *testing.T) {
	t.Setenv("WEEX_MOCK_MODE", "true")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.TradingConfig.Symbols) == 0 {
		t.Error("no default symbols")
	}
	if cfg.ProtectionConfig.MinRiskReward != 1.2 {
		t.Errorf("MinRiskReward = %v, want 1.2", cfg.ProtectionConfig.MinRiskReward)
	}
	if len(cfg.LifecycleConfig.ProfitLockTiers) != 6 {
		t.Errorf("tiers = %d, want 6", len(cfg.LifecycleConfig.ProfitLockTiers))
	}
	if _, ok := cfg.ProtectionConfig.RegimeTable["RANGE"]; !ok {
		t.Error("regime table missing RANGE")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEEX_MOCK_MODE", "true")
	t.Setenv("TRADING_SYMBOLS", "cmt_btcusdt,cmt_dogeusdt")
	t.Setenv("GUARD_MAX_NOTIONAL", "750.5")
	t.Setenv("LIFECYCLE_MIN_CONFIDENCE", "0.62")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.TradingConfig.Symbols) != 2 || cfg.TradingConfig.Symbols[1] != "cmt_dogeusdt" {
		t.Errorf("Symbols = %v", cfg.TradingConfig.Symbols)
	}
	if cfg.GuardConfig.MaxNotional != 750.5 {
		t.Errorf("MaxNotional = %v, want 750.5", cfg.GuardConfig.MaxNotional)
	}
	if cfg.LifecycleConfig.MinConfidence != 0.62 {
		t.Errorf("MinConfidence = %v, want 0.62", cfg.LifecycleConfig.MinConfidence)
	}
	if cfg.LoggingConfig.Level != "DEBUG" {
		t.Errorf("Level = %s, want DEBUG", cfg.LoggingConfig.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"weex": {"mock_mode": true},
		"trading": {"symbols": ["cmt_btcusdt"], "leverage": 8},
		"lifecycle": {"min_confidence": 0.6}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TradingConfig.Leverage != 8 {
		t.Errorf("Leverage = %d, want 8", cfg.TradingConfig.Leverage)
	}
	if cfg.LifecycleConfig.MinConfidence != 0.6 {
		t.Errorf("MinConfidence = %v, want 0.6", cfg.LifecycleConfig.MinConfidence)
	}
	// Values the file omits keep their defaults
	if cfg.ReconcileConfig.Interval != 120 {
		t.Errorf("Interval = %d, want default 120", cfg.ReconcileConfig.Interval)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.TradingConfig.Symbols = nil }},
		{"zero min rr", func(c *Config) { c.ProtectionConfig.MinRiskReward = 0 }},
		{"risk above cap", func(c *Config) { c.LifecycleConfig.RiskPercent = 0.10 }},
		{"non-monotonic tiers", func(c *Config) {
			c.LifecycleConfig.ProfitLockTiers[2].LockPercent = 0.5
		}},
		{"live mode without credentials", func(c *Config) { c.WeexConfig.MockMode = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.WeexConfig.MockMode = true
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted a bad config")
			}
		})
	}
}
