package ctl

import (
	"fmt"
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
)

// AgentVersion mirrors GET /api/version.
type AgentVersion struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at"`
	Lib       string `json:"lib"`
}

type versionReport struct {
	CLI struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	} `json:"cli"`
	Agent      *AgentVersion `json:"agent,omitempty"`
	AgentError string        `json:"agent_error,omitempty"`
	Skew       bool          `json:"skew"`
}

// VersionInfo prints the CLI build next to the agent's. Skew is flagged
// when both sides are release builds and disagree.
func VersionInfo(baseURL string, jsonOutput bool) error {
	var report versionReport
	report.CLI.Version = Version
	report.CLI.GoVersion = GoVersion

	var agent AgentVersion
	if err := getJSON(strings.TrimRight(baseURL, "/"), "/api/version", &agent); err != nil {
		report.AgentError = err.Error()
	} else {
		report.Agent = &agent
		report.Skew = Version != "dev" && agent.Version != "dev" && agent.Version != Version
	}

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  STORYTIME VERSION"))
	fmt.Fprintln(stdout, rule(38))
	fmt.Fprintf(stdout, "  %-12s %s (%s)\n", colorize(dim, "CLI:"), Version, GoVersion)
	if report.Agent == nil {
		fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Agent:"), colorize(red, "unreachable: "+report.AgentError))
		fmt.Fprintln(stdout)
		return nil
	}
	fmt.Fprintf(stdout, "  %-12s %s (%s)\n", colorize(dim, "Agent:"), agent.Version, agent.GoVersion)
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Built:"), orDash(agent.BuiltAt))
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Lib:"), orDash(agent.Lib))
	if report.Skew {
		fmt.Fprintf(stdout, "  %s\n", colorize(yellow, "warning: cli and agent versions differ"))
	}
	fmt.Fprintln(stdout)
	return nil
}
