package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalConfig = `app:
  name: "booksync"
  version: "1.0"
session:
  backoff_unit: 2s
venues:
  binance:
    depth_limit: 500
books:
  - venue: Binance
    symbol: " BTCUSDT "
  - venue: deribit
    symbol: BTC-PERPETUAL
    stale_after: 30s
`

// writeTempFile writes content into a temporary file and returns its path.
func writeTempFile(t *testing.T, pattern, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("METRICS_ADDR", "")
	path := writeTempFile(t, "cfg-*.yml", minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "booksync" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Session.BackoffUnit != 2*time.Second {
		t.Errorf("unexpected backoff unit: %s", cfg.Session.BackoffUnit)
	}
	if cfg.Session.PollInterval != 500*time.Millisecond || cfg.Session.MaxPolls != 60 {
		t.Errorf("defaults not applied: %+v", cfg.Session)
	}
	if cfg.Session.BackoffCeiling != 1024 {
		t.Errorf("unexpected backoff ceiling: %d", cfg.Session.BackoffCeiling)
	}
	if cfg.Books[0].Venue != "binance" || cfg.Books[0].Symbol != "BTCUSDT" {
		t.Errorf("book not normalised: %+v", cfg.Books[0])
	}
	if cfg.Books[1].StaleAfter != 30*time.Second {
		t.Errorf("unexpected stale_after: %s", cfg.Books[1].StaleAfter)
	}
	if cfg.Venue("binance").DepthLimit != 500 {
		t.Errorf("venue override missing: %+v", cfg.Venue("binance"))
	}
	if cfg.Venue("unknown").URL != "" {
		t.Errorf("expected zero venue config")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("METRICS_ADDR", "127.0.0.1:9999")
	path := writeTempFile(t, "cfg-*.yml", minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Metrics.Address != "127.0.0.1:9999" {
		t.Errorf("unexpected metrics address: %s", cfg.Metrics.Address)
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.App = AppConfig{Name: "x", Version: "1"}
		cfg.Books = []BookConfig{{Venue: "binance", Symbol: "BTCUSDT"}}
		return &cfg
	}

	if err := validateConfig(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"missing name":   func(c *Config) { c.App.Name = "" },
		"no books":       func(c *Config) { c.Books = nil },
		"duplicate book": func(c *Config) { c.Books = append(c.Books, c.Books[0]) },
		"empty symbol":   func(c *Config) { c.Books[0].Symbol = "" },
		"zero polls":     func(c *Config) { c.Session.MaxPolls = 0 },
		"tiny ceiling":   func(c *Config) { c.Session.BackoffCeiling = 1 },
		"no rate":        func(c *Config) { c.Session.SnapshotRate.RequestsPerSecond = 0 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := validateConfig(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadIPShards(t *testing.T) {
	content := `shards:
- ip: "1.1.1.1"
  books: ["binance:BTCUSDT", "Deribit:BTC-PERPETUAL"]
`
	path := writeTempFile(t, "shards-*.yml", content)

	shards, err := LoadIPShards(path)
	if err != nil {
		t.Fatalf("LoadIPShards failed: %v", err)
	}
	if len(shards.Shards) != 1 || shards.Shards[0].IP != "1.1.1.1" {
		t.Fatalf("unexpected shards: %+v", shards.Shards)
	}

	books := []BookConfig{
		{Venue: "binance", Symbol: "BTCUSDT"},
		{Venue: "deribit", Symbol: "BTC-PERPETUAL"},
		{Venue: "bitmex", Symbol: "XBTUSD", LocalIP: "2.2.2.2"},
		{Venue: "huobi", Symbol: "BTC-USD"},
	}
	shards.Apply(books)
	want := []string{"1.1.1.1", "1.1.1.1", "2.2.2.2", ""}
	for i, b := range books {
		if b.LocalIP != want[i] {
			t.Errorf("book %d: local ip %q, want %q", i, b.LocalIP, want[i])
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolveConfigPath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path changed: %s", got)
	}
	if got := ResolveConfigPath(""); got != DefaultConfigPath && got != filepath.Join("config", "config.production.yml") {
		t.Errorf("unexpected default path: %s", got)
	}
	if AppEnvironment() != EnvironmentProduction || !IsProductionLike(AppEnvironment()) {
		t.Errorf("alias not resolved: %s", AppEnvironment())
	}
}
