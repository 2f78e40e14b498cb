package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Mode          string   `json:"mode"`
	BaseURL       string   `json:"base_url"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Watchers      int      `json:"watchers"`
	Storage       bool     `json:"storage"`
	State         string   `json:"state"`
	AccountID     string   `json:"account_id"`
	CustomerID    string   `json:"customer_id"`
	SessionID     string   `json:"session_id"`
	Channel       string   `json:"channel"`
	Initialized   bool     `json:"initialized"`
	Recording     bool     `json:"recording"`
	Viewers       []string `json:"viewers"`
	Path          string   `json:"path"`
	Hidden        bool     `json:"hidden"`
}

// Status fetches the agent status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	viewers := "none"
	if len(s.Viewers) > 0 {
		viewers = strings.Join(s.Viewers, ", ")
	}
	visibility := "visible"
	if s.Hidden {
		visibility = "hidden"
	}

	row := func(label, value string) {
		fmt.Fprintf(stdout, "  %-14s %s\n", colorize(dim, label), value)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  STORYTIME STATUS"))
	fmt.Fprintln(stdout, rule(44))
	row("Agent:", s.Name+" "+s.Version)
	row("State:", colorize(stateColor(s.State), s.State))
	row("Uptime:", formatDuration(time.Duration(s.UptimeSeconds)*time.Second))
	row("Mode:", s.Mode)
	row("Backend:", s.BaseURL)
	row("Account:", s.AccountID)
	row("Customer:", orDash(s.CustomerID))
	row("Session:", orDash(s.SessionID))
	row("Channel:", orDash(s.Channel))
	row("Recording:", yesNo(s.Recording))
	row("Viewers:", viewers)
	row("Page:", s.Path+" ("+visibility+")")
	row("Storage:", yesNo(s.Storage))
	row("Watchers:", fmt.Sprint(s.Watchers))
	row("Host:", baseURL)
	fmt.Fprintln(stdout)

	return nil
}
