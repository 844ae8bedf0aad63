package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with defaults failed: %v", err)
	}

	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("unexpected default interval %s", cfg.Scheduler.Interval)
	}
	if cfg.Harvest.Comparison != ModeAtOrAbove {
		t.Fatalf("unexpected default comparison %s", cfg.Harvest.Comparison)
	}
	if cfg.Harvest.RetryCeiling != 5 {
		t.Fatalf("unexpected default retry ceiling %d", cfg.Harvest.RetryCeiling)
	}
	if cfg.Oracle.StalenessWindow != 90*time.Second {
		t.Fatalf("unexpected default staleness window %s", cfg.Oracle.StalenessWindow)
	}
	if cfg.Dashboard.ListenAddr != ":5000" {
		t.Fatalf("unexpected default listen addr %s", cfg.Dashboard.ListenAddr)
	}
	if !cfg.ThresholdDecimal().Equal(decimal.RequireFromString("1.05")) {
		t.Fatalf("unexpected default threshold %s", cfg.ThresholdDecimal())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
scheduler:
  interval: 10s
harvest:
  threshold_price: 2.5
  comparison: at_or_below
  retry_ceiling: 7
  backoff_base: 1s
  backoff_cap: 30s
oracle:
  base_url: http://feed.local
  staleness_window: 45s
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Scheduler.Interval != 10*time.Second {
		t.Fatalf("interval not applied: %s", cfg.Scheduler.Interval)
	}
	if cfg.Harvest.Comparison != ModeAtOrBelow {
		t.Fatalf("comparison not applied: %s", cfg.Harvest.Comparison)
	}
	if cfg.Harvest.RetryCeiling != 7 {
		t.Fatalf("retry ceiling not applied: %d", cfg.Harvest.RetryCeiling)
	}
	if cfg.Oracle.BaseURL != "http://feed.local" {
		t.Fatalf("oracle base url not applied: %s", cfg.Oracle.BaseURL)
	}
	if !cfg.ThresholdDecimal().Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("threshold not applied: %s", cfg.ThresholdDecimal())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"non-positive threshold", func(c *Config) { c.Harvest.ThresholdPrice = 0 }},
		{"unknown comparison", func(c *Config) { c.Harvest.Comparison = "above" }},
		{"negative min balance", func(c *Config) { c.Harvest.MinBalance = -1 }},
		{"zero retry ceiling", func(c *Config) { c.Harvest.RetryCeiling = 0 }},
		{"cap below base", func(c *Config) { c.Harvest.BackoffCap = time.Second; c.Harvest.BackoffBase = time.Minute }},
		{"zero staleness window", func(c *Config) { c.Oracle.StalenessWindow = 0 }},
		{"telegram without token", func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.ChatID = "chat"
			c.Alerting.Telegram.BotToken = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("expected config default 500, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("expected override 50, got %d", got)
	}
}
