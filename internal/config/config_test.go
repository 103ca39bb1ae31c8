package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults failed validation: %v", err)
	}
	if cfg.Session.TradingDuration.Duration != 18*time.Second {
		t.Errorf("trading_duration = %v, want 18s", cfg.Session.TradingDuration.Duration)
	}
	if cfg.Session.Margin != 0.1 {
		t.Errorf("margin = %v, want 0.1", cfg.Session.Margin)
	}
	if cfg.Session.SmoothingFactor != 0.5 {
		t.Errorf("smoothing_factor = %v, want 0.5", cfg.Session.SmoothingFactor)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown mode",
			mutate: func(c *Config) { c.Mode = "turbo" },
			want:   "unknown mode",
		},
		{
			name:   "empty agent name",
			mutate: func(c *Config) { c.Agent.Name = " " },
			want:   "name must not be empty",
		},
		{
			name:   "margin out of range",
			mutate: func(c *Config) { c.Session.Margin = 1.5 },
			want:   "margin",
		},
		{
			name:   "smoothing factor zero",
			mutate: func(c *Config) { c.Session.SmoothingFactor = 0 },
			want:   "smoothing_factor",
		},
		{
			name: "cutoff before cold start",
			mutate: func(c *Config) {
				c.Session.StopTradingNonGoal = duration{5 * time.Second}
			},
			want: "stop_trading_nongoal",
		},
		{
			name: "journal pool bounds",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.PoolMinConns = 10
				c.Journal.PoolMaxConns = 2
			},
			want: "pool_min_conns",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Agent.Name = ""
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "name must not be empty", "redis"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("combined error missing %q: %v", want, err)
		}
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "monitor"

[agent]
name = "trader-7"

[session]
trading_duration = "2m"
margin = 0.25
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != "monitor" {
		t.Errorf("mode = %q, want monitor", cfg.Mode)
	}
	if cfg.Agent.Name != "trader-7" {
		t.Errorf("agent name = %q, want trader-7", cfg.Agent.Name)
	}
	if cfg.Session.TradingDuration.Duration != 2*time.Minute {
		t.Errorf("trading_duration = %v, want 2m", cfg.Session.TradingDuration.Duration)
	}
	if cfg.Session.Margin != 0.25 {
		t.Errorf("margin = %v, want 0.25", cfg.Session.Margin)
	}
	// Untouched sections keep their defaults.
	if cfg.Agent.Service != "book-trader" {
		t.Errorf("service = %q, want default book-trader", cfg.Agent.Service)
	}
	if cfg.Session.TickInterval.Duration != 2*time.Second {
		t.Errorf("tick_interval = %v, want default 2s", cfg.Session.TickInterval.Duration)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOOKBOT_AGENT_NAME", "trader-env")
	t.Setenv("BOOKBOT_SESSION_MARGIN", "0.2")
	t.Setenv("BOOKBOT_SESSION_TICK_INTERVAL", "500ms")
	t.Setenv("BOOKBOT_SESSION_RESERVE_INVENTORY", "true")
	t.Setenv("BOOKBOT_NOTIFY_EVENTS", "trade_settled, error")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Agent.Name != "trader-env" {
		t.Errorf("agent name = %q, want trader-env", cfg.Agent.Name)
	}
	if cfg.Session.Margin != 0.2 {
		t.Errorf("margin = %v, want 0.2", cfg.Session.Margin)
	}
	if cfg.Session.TickInterval.Duration != 500*time.Millisecond {
		t.Errorf("tick_interval = %v, want 500ms", cfg.Session.TickInterval.Duration)
	}
	if !cfg.Session.ReserveInventory {
		t.Error("reserve_inventory override not applied")
	}
	want := []string{"trade_settled", "error"}
	if len(cfg.Notify.Events) != len(want) {
		t.Fatalf("events = %v, want %v", cfg.Notify.Events, want)
	}
	for i := range want {
		if cfg.Notify.Events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, cfg.Notify.Events[i], want[i])
		}
	}
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("BOOKBOT_SESSION_MARGIN", "not-a-number")
	cfg := Defaults()
	applyEnvOverrides(&cfg)
	if cfg.Session.Margin != 0.1 {
		t.Errorf("margin = %v, want unchanged default 0.1", cfg.Session.Margin)
	}
}
