package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HealthResponse mirrors the detailed JSON health report.
type HealthResponse struct {
	Healthy bool                      `json:"healthy"`
	Checks  map[string]map[string]any `json:"checks"`
}

// Health asks the agent for its component checks. An unreachable agent is
// an error; a reachable but degraded one is reported, not failed.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz", "application/json")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var h HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		// Older agents only answer plain text.
		h = HealthResponse{Healthy: status == 200}
	}

	if jsonOutput {
		return printJSON(map[string]any{"healthy": h.Healthy, "url": baseURL, "checks": h.Checks})
	}

	fmt.Fprintln(stdout)
	if h.Healthy {
		fmt.Fprintf(stdout, "  %s  storytimed is healthy at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Fprintf(stdout, "  %s  storytimed returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := h.Checks[name]
		ok, _ := check["ok"].(bool)
		mark := colorize(green, "ok  ")
		if !ok {
			mark = colorize(red, "FAIL")
		}
		detail := ""
		if s, _ := check["state"].(string); s != "" {
			detail = s
		}
		if p, _ := check["path"].(string); p != "" {
			detail = p
		}
		if e, _ := check["error"].(string); e != "" {
			detail = e
		}
		fmt.Fprintf(stdout, "    %s %s %s\n", mark, padRight(name, 12), colorize(dim, detail))
	}
	fmt.Fprintln(stdout)

	return nil
}
