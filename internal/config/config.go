// Package config loads the zapelm daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/zapelm/internal/render"
)

// Page acquisition modes.
const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
	ModeAuto    = "auto"
)

// Sink types.
const (
	SinkStdout  = "stdout"
	SinkWebhook = "webhook"
)

// Config is the top-level daemon configuration.
type Config struct {
	DBPath     string           `yaml:"db_path"`
	LogLevel   string           `yaml:"log_level"` // debug | info | warn | error
	HTTP       HTTPConfig       `yaml:"http"`
	Browser    BrowserConfig    `yaml:"browser"`
	Pages      []PageConfig     `yaml:"pages"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Snapshots  SnapshotConfig   `yaml:"snapshots"`
	Sinks      []SinkConfig     `yaml:"sinks"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	MCP        MCPConfig        `yaml:"mcp"`
	StoreWatch StoreWatchConfig `yaml:"store_watch"`
}

// HTTPConfig controls the HTTP API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"` // DevTools URL of a running Chrome; empty launches one
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          bool          `yaml:"stealth"`
	Headful          bool          `yaml:"headful"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// PageConfig defines a page to mirror at startup.
type PageConfig struct {
	ID     string `yaml:"id"`
	URL    string `yaml:"url"`
	Mode   string `yaml:"mode"`   // http | browser | auto
	Follow bool   `yaml:"follow"` // keep the mirror in sync with live DOM mutations (browser only)
}

// MirrorConfig controls mutation batching.
type MirrorConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// SnapshotConfig controls snapshot emission.
type SnapshotConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type   string `yaml:"type"`   // stdout | webhook
	URL    string `yaml:"url"`    // webhook only
	Format string `yaml:"format"` // html | sanitized | markdown
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// MCPConfig enables the MCP server on stdio.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StoreWatchConfig controls how often the rule database is checked for
// writes made by other processes.
type StoreWatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "zapelm.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Mirror.Window <= 0 {
		c.Mirror.Window = 250 * time.Millisecond
	}
	if c.Mirror.MaxBuffer <= 0 {
		c.Mirror.MaxBuffer = 1000
	}
	if c.Snapshots.Debounce <= 0 {
		c.Snapshots.Debounce = time.Second
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "zapelm"
	}
	if c.StoreWatch.Interval <= 0 {
		c.StoreWatch.Interval = 200 * time.Millisecond
	}
	if c.StoreWatch.Debounce <= 0 {
		c.StoreWatch.Debounce = 500 * time.Millisecond
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
		if c.Pages[i].Mode == "" {
			c.Pages[i].Mode = ModeAuto
		}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Format == "" {
			c.Sinks[i].Format = string(render.HTML)
		}
	}
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel))
	}

	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("pages[%d]: url is required", i))
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("pages[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		switch p.Mode {
		case ModeHTTP, ModeBrowser, ModeAuto:
		default:
			errs = append(errs, fmt.Errorf("pages[%d]: mode %q: want http, browser or auto", i, p.Mode))
		}
		if p.Follow && p.Mode == ModeHTTP {
			errs = append(errs, fmt.Errorf("pages[%d]: follow needs mode browser or auto", i))
		}
	}

	for i, s := range c.Sinks {
		switch s.Type {
		case SinkStdout:
		case SinkWebhook:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("sinks[%d]: webhook needs a url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("sinks[%d]: type %q: want stdout or webhook", i, s.Type))
		}
		if _, err := render.ParseFormat(s.Format); err != nil {
			errs = append(errs, fmt.Errorf("sinks[%d]: %w", i, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
