package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.PollInterval != 10*time.Minute {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.JanitorInterval != time.Hour {
		t.Errorf("JanitorInterval = %v", cfg.JanitorInterval)
	}
	if cfg.DissolveAfter != 72*time.Hour || cfg.GraceHours() != 72 {
		t.Errorf("DissolveAfter = %v, GraceHours = %d", cfg.DissolveAfter, cfg.GraceHours())
	}
	if cfg.Lookback != 15*time.Minute {
		t.Errorf("Lookback = %v", cfg.Lookback)
	}
	if cfg.DedupWindow != 5*time.Minute {
		t.Errorf("DedupWindow = %v", cfg.DedupWindow)
	}
	if cfg.MaxBodyRunes != 8000 || cfg.PollerMaxBodyRunes != 1000 {
		t.Errorf("body caps = %d, %d", cfg.MaxBodyRunes, cfg.PollerMaxBodyRunes)
	}
	if cfg.SecondaryTZOffset != 8*time.Hour {
		t.Errorf("SecondaryTZOffset = %v", cfg.SecondaryTZOffset)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "3m")
	t.Setenv("AUTO_DISSOLVE_HOURS", "24")
	t.Setenv("LOOKBACK_MINUTES", "30")
	t.Setenv("LOG_LEVEL", "WARNING") // normalized to warn
	t.Setenv("ACCOUNTS", "prod=ref-prod, staging=ref-stg, malformed")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 3*time.Minute {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.GraceHours() != 24 {
		t.Errorf("GraceHours = %d", cfg.GraceHours())
	}
	if cfg.Lookback != 30*time.Minute {
		t.Errorf("Lookback = %v", cfg.Lookback)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts["prod"] != "ref-prod" || cfg.Accounts["staging"] != "ref-stg" {
		t.Errorf("Accounts = %v", cfg.Accounts)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string][2]string{
		"bad log level":      {"LOG_LEVEL", "verbose"},
		"poll too frequent":  {"POLL_INTERVAL", "10s"},
		"zero grace":         {"AUTO_DISSOLVE_HOURS", "0"},
		"zero rate burst":    {"RATE_BURST", "0"},
		"bad sampler ratio":  {"OTEL_TRACES_SAMPLER_ARG", "1.5"},
		"negative rate":      {"RATE_RPS", "-1"},
		"janitor too eager":  {"JANITOR_INTERVAL", "5s"},
		"zero dedup window":  {"DEDUP_WINDOW", "-1m"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error for %s=%s", kv[0], kv[1])
			}
		})
	}
}
