package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig              `yaml:"app"`
	Logging    LoggingConfig          `yaml:"logging"`
	Metrics    MetricsConfig          `yaml:"metrics"`
	CloudWatch CloudWatchConfig       `yaml:"cloudwatch"`
	Session    SessionConfig          `yaml:"session"`
	Venues     map[string]VenueConfig `yaml:"venues"`
	Books      []BookConfig           `yaml:"books"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// SessionConfig drives the lifecycle timers shared by every book session.
type SessionConfig struct {
	PollInterval      time.Duration   `yaml:"poll_interval"`
	MaxPolls          int             `yaml:"max_polls"`
	WatchdogInterval  time.Duration   `yaml:"watchdog_interval"`
	BackoffUnit       time.Duration   `yaml:"backoff_unit"`
	BackoffCeiling    int             `yaml:"backoff_ceiling"`
	EventBuffer       int             `yaml:"event_buffer"`
	ErrorBuffer       int             `yaml:"error_buffer"`
	MaxBufferedDeltas int             `yaml:"max_buffered_deltas"`
	SnapshotTimeout   time.Duration   `yaml:"snapshot_timeout"`
	SnapshotRate      RateLimitConfig `yaml:"snapshot_rate"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// VenueConfig overrides a venue's default endpoints.
type VenueConfig struct {
	URL          string        `yaml:"url"`
	RestURL      string        `yaml:"rest_url"`
	DepthLimit   int           `yaml:"depth_limit"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// BookConfig selects one instrument on one venue. A zero StaleAfter uses the
// venue default; a negative one disables the staleness watchdog.
type BookConfig struct {
	Venue      string        `yaml:"venue"`
	Symbol     string        `yaml:"symbol"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Depth      int           `yaml:"depth"`
	LocalIP    string        `yaml:"local_ip"`
}

// DefaultSessionConfig returns the lifecycle timers used when the file
// leaves them unset.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PollInterval:      500 * time.Millisecond,
		MaxPolls:          60,
		WatchdogInterval:  5 * time.Second,
		BackoffUnit:       time.Second,
		BackoffCeiling:    1024,
		EventBuffer:       1024,
		ErrorBuffer:       16,
		MaxBufferedDeltas: 10000,
		SnapshotTimeout:   10 * time.Second,
		SnapshotRate:      RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2},
	}
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: time.Minute,
		},
		Metrics: MetricsConfig{Address: "0.0.0.0:2112"},
		CloudWatch: CloudWatchConfig{
			Namespace: "BookSync",
			Dashboard: "BookSync",
		},
		Session: DefaultSessionConfig(),
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("AWS_REGION"); v != "" && config.CloudWatch.Region == "" {
		config.CloudWatch.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		config.Metrics.Address = strings.TrimSpace(v)
	}
	for i := range config.Books {
		config.Books[i].Venue = strings.ToLower(strings.TrimSpace(config.Books[i].Venue))
		config.Books[i].Symbol = strings.TrimSpace(config.Books[i].Symbol)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Venue returns the overrides for name, or the zero value.
func (c *Config) Venue(name string) VenueConfig {
	if c.Venues == nil {
		return VenueConfig{}
	}
	return c.Venues[name]
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	if err := cfg.Session.Validate(); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	if len(cfg.Books) == 0 {
		return fmt.Errorf("at least one book is required")
	}
	seen := make(map[string]struct{}, len(cfg.Books))
	for i, b := range cfg.Books {
		if b.Venue == "" || b.Symbol == "" {
			return fmt.Errorf("books[%d]: venue and symbol are required", i)
		}
		key := b.Venue + ":" + b.Symbol
		if _, dup := seen[key]; dup {
			return fmt.Errorf("books[%d]: duplicate book %s", i, key)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// Validate checks the session timers.
func (s SessionConfig) Validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be greater than 0")
	}
	if s.MaxPolls <= 0 {
		return fmt.Errorf("session.max_polls must be greater than 0")
	}
	if s.WatchdogInterval <= 0 {
		return fmt.Errorf("session.watchdog_interval must be greater than 0")
	}
	if s.BackoffUnit <= 0 {
		return fmt.Errorf("session.backoff_unit must be greater than 0")
	}
	if s.BackoffCeiling < 2 {
		return fmt.Errorf("session.backoff_ceiling must be at least 2")
	}
	if s.EventBuffer <= 0 {
		return fmt.Errorf("session.event_buffer must be greater than 0")
	}
	if s.ErrorBuffer <= 0 {
		return fmt.Errorf("session.error_buffer must be greater than 0")
	}
	if s.MaxBufferedDeltas <= 0 {
		return fmt.Errorf("session.max_buffered_deltas must be greater than 0")
	}
	if s.SnapshotRate.RequestsPerSecond <= 0 || s.SnapshotRate.BurstSize <= 0 {
		return fmt.Errorf("session.snapshot_rate requires positive requests_per_second and burst_size")
	}
	return nil
}
