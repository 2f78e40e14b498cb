package ctl

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config fetches and displays the agent's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	var cfg struct {
		AccountID string   `json:"account_id"`
		BaseURL   string   `json:"base_url"`
		Debug     bool     `json:"debug"`
		Blocklist []string `json:"blocklist"`
		Customer  struct {
			Name       string `json:"name"`
			Email      string `json:"email"`
			ExternalID string `json:"external_id"`
		} `json:"customer"`
		CustomProperties []struct {
			Name           string   `json:"name"`
			CSSSelector    string   `json:"css_selector"`
			EventSelectors []string `json:"event_selectors"`
		} `json:"custom_properties"`
		Storage struct {
			Path          string `json:"path"`
			SessionScoped bool   `json:"session_scoped"`
		} `json:"storage"`
		Server struct {
			Bind string `json:"bind"`
		} `json:"server"`
		Logging struct {
			Level  string `json:"level"`
			Format string `json:"format"`
		} `json:"logging"`
		Page struct {
			Document string `json:"document"`
			URL      string `json:"url"`
			Script   string `json:"script"`
		} `json:"page"`
		Demo struct {
			Enabled         bool `json:"enabled"`
			IntervalSeconds int  `json:"interval_seconds"`
		} `json:"demo"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  AGENT CONFIGURATION"))
	fmt.Fprintln(stdout, rule(50))

	section := func(name string) {
		fmt.Fprintf(stdout, "\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Fprintf(stdout, "    %-20s %v\n", colorize(dim, key+":"), val)
	}

	field("account_id", cfg.AccountID)
	field("base_url", cfg.BaseURL)
	field("debug", cfg.Debug)
	field("blocklist", strings.Join(cfg.Blocklist, ", "))

	section("customer")
	field("name", orDash(cfg.Customer.Name))
	field("email", orDash(cfg.Customer.Email))
	field("external_id", orDash(cfg.Customer.ExternalID))

	for _, cp := range cfg.CustomProperties {
		section("custom_properties")
		field("name", cp.Name)
		field("css_selector", cp.CSSSelector)
		field("event_selectors", strings.Join(cp.EventSelectors, ", "))
	}

	section("storage")
	field("path", orDash(cfg.Storage.Path))
	field("session_scoped", cfg.Storage.SessionScoped)

	section("server")
	field("bind", cfg.Server.Bind)

	section("logging")
	field("level", cfg.Logging.Level)
	field("format", cfg.Logging.Format)

	section("page")
	field("document", orDash(cfg.Page.Document))
	field("url", cfg.Page.URL)
	field("script", orDash(cfg.Page.Script))

	section("demo")
	field("enabled", cfg.Demo.Enabled)
	field("interval_seconds", cfg.Demo.IntervalSeconds)

	fmt.Fprintln(stdout)
	return nil
}
