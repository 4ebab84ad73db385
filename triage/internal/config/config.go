// Package config loads triage configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level triage configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Host    HostConfig    `yaml:"host"`
	Poll    PollConfig    `yaml:"poll"`
	API     APIConfig     `yaml:"api"`
	Journal JournalConfig `yaml:"journal"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Mode             string        `yaml:"mode"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// HostConfig describes the monitored application.
type HostConfig struct {
	// Origin overrides the API origin. Empty means the page's own origin.
	Origin string `yaml:"origin"`
	// SaaSDomain enables "{org}.<domain>" organization recognition.
	SaaSDomain string `yaml:"saas_domain"`
}

// Budget is one bounded poll: attempts at a fixed interval.
type Budget struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

// PollConfig bounds every wait on asynchronously rendered UI.
type PollConfig struct {
	TabSettle   time.Duration `yaml:"tab_settle"`
	Rows        Budget        `yaml:"rows"`
	ReplayLinks Budget        `yaml:"replay_links"`
	Click       Budget        `yaml:"click"`
}

// APIConfig tunes the host API client.
type APIConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	MaxBody       int64         `yaml:"max_body"`
}

// JournalConfig locates the action journal. An empty path disables it.
// Entries older than RetentionDays are pruned when a session opens; zero
// keeps everything.
type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Poll.TabSettle <= 0 {
		c.Poll.TabSettle = 300 * time.Millisecond
	}
	c.Poll.Rows.defaults(10, 300*time.Millisecond)
	c.Poll.ReplayLinks.defaults(8, 250*time.Millisecond)
	c.Poll.Click.defaults(12, 250*time.Millisecond)
	if c.API.Timeout <= 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.API.Burst <= 0 {
		c.API.Burst = 1
	}
	if c.API.MaxBody <= 0 {
		c.API.MaxBody = 10 << 20
	}
}

func (b *Budget) defaults(attempts int, interval time.Duration) {
	if b.Attempts <= 0 {
		b.Attempts = attempts
	}
	if b.Interval <= 0 {
		b.Interval = interval
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	if c.API.RatePerSecond < 0 {
		return fmt.Errorf("config: api.rate_per_second must not be negative")
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("config: journal.retention_days must not be negative")
	}
	return nil
}
