// Package config handles loading, defaulting, and validation of the storytime
// agent's TOML configuration file. Every section maps to a typed struct so
// the rest of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/api"
	"github.com/large-farva/storytime/internal/autocapture"
	"github.com/large-farva/storytime/internal/identity"
)

// ErrMissingAccountID is returned when the file does not name an account.
var ErrMissingAccountID = errors.New("account_id must not be empty")

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	AccountID        string                       `toml:"account_id"        json:"account_id"`
	BaseURL          string                       `toml:"base_url"          json:"base_url"`
	Debug            bool                         `toml:"debug"             json:"debug"`
	Blocklist        []string                     `toml:"blocklist"         json:"blocklist"`
	Customer         identity.CustomerMetadata    `toml:"customer"          json:"customer"`
	CustomProperties []autocapture.CustomProperty `toml:"custom_properties" json:"custom_properties"`

	Storage StorageConfig `toml:"storage" json:"storage"`
	Server  ServerConfig  `toml:"server"  json:"server"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Page    PageConfig    `toml:"page"    json:"page"`
	Demo    DemoConfig    `toml:"demo"    json:"demo"`
}

// StorageConfig selects where customer and session ids are cached. An empty
// path leaves the agent without durable storage. SessionScoped=false
// simulates a host without session storage, so every start opens a new
// browser session.
type StorageConfig struct {
	Path          string `toml:"path"           json:"path"`
	SessionScoped bool   `toml:"session_scoped" json:"session_scoped"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type LoggingConfig struct {
	Level  string `toml:"level"  json:"level"`
	Format string `toml:"format" json:"format"`
}

// PageConfig describes the document the agent hosts. Document is a path to
// an HTML file; when empty the built-in demo storefront is served. Script
// is an optional JSONL file of steps replayed against the page.
type PageConfig struct {
	Document string `toml:"document" json:"document"`
	URL      string `toml:"url"      json:"url"`
	Script   string `toml:"script"   json:"script"`
}

type DemoConfig struct {
	Enabled         bool `toml:"enabled"          json:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds" json:"interval_seconds"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		BaseURL: api.DefaultBaseURL,
		Storage: StorageConfig{
			Path:          "/var/lib/storytime/storytime.db",
			SessionScoped: true,
		},
		Server: ServerConfig{
			Bind: "127.0.0.1:8420",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Page: PageConfig{
			URL: "http://localhost/",
		},
		Demo: DemoConfig{
			Enabled:         true,
			IntervalSeconds: 2,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LogLevel resolves the effective log level. Debug mode always wins.
func (c Config) LogLevel() zerolog.Level {
	if c.Debug {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.AccountID) == "" {
		return ErrMissingAccountID
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", cfg.BaseURL)
	}
	for i, entry := range cfg.Blocklist {
		// An empty entry is a substring of every path and would block everything.
		if entry == "" {
			return fmt.Errorf("blocklist[%d] must not be empty", i)
		}
	}
	for i, cp := range cfg.CustomProperties {
		if cp.Name == "" {
			return fmt.Errorf("custom_properties[%d].name must not be empty", i)
		}
		if cp.CSSSelector == "" {
			return fmt.Errorf("custom_properties[%d].css_selector must not be empty", i)
		}
		if len(cp.EventSelectors) == 0 {
			return fmt.Errorf("custom_properties[%d].event_selectors must not be empty", i)
		}
	}
	if cfg.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch cfg.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", cfg.Logging.Format)
	}
	if u, err := url.Parse(cfg.Page.URL); err != nil || u.Host == "" {
		return fmt.Errorf("page.url %q must be an absolute URL", cfg.Page.URL)
	}
	if cfg.Demo.IntervalSeconds < 0 {
		return errors.New("demo.interval_seconds must be >= 0")
	}
	return nil
}
