// Stctl is the command-line client for a running storytimed agent. It
// queries status over HTTP, streams live events over WebSocket, and can
// inspect a page's autocapture rules or the agent's store file offline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/storytime/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8420", "Agent URL (e.g. http://10.0.0.5:8420)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,capture)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = usage
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		fs := pflag.NewFlagSet("logs", pflag.ExitOnError)
		fs.StringVar(&opts.Level, "level", "", "Filter by log level (debug, info, warn, error)")
		fs.IntVar(&opts.Limit, "limit", 0, "Limit number of log entries shown")
		fs.BoolVar(&opts.Tail, "tail", false, "Stream live log events (like watch --filter log)")
		_ = fs.Parse(subArgs)
		err = ctl.Logs(*host, opts)

	case "identity":
		opts := ctl.IdentityOptions{JSON: *jsonOut}
		fs := pflag.NewFlagSet("identity", pflag.ExitOnError)
		fs.StringVar(&opts.DB, "db", "", "Read the agent's store file instead of asking the agent")
		fs.StringVar(&opts.CustomerID, "customer-id", "", "Adopt a customer id resolved elsewhere")
		fs.StringVar(&opts.Name, "name", "", "Identify the visitor with this name")
		fs.StringVar(&opts.Email, "email", "", "Identify the visitor with this email")
		fs.StringVar(&opts.ExternalID, "external-id", "", "Identify the visitor with this external id")
		_ = fs.Parse(subArgs)
		err = ctl.Identity(*host, opts)

	case "reset":
		opts := ctl.ResetOptions{JSON: *jsonOut}
		fs := pflag.NewFlagSet("reset", pflag.ExitOnError)
		fs.StringVar(&opts.DB, "db", "", "Clear the store file directly (agent stopped)")
		_ = fs.Parse(subArgs)
		err = ctl.Reset(*host, opts)

	case "classify":
		opts := ctl.ClassifyOptions{JSON: *jsonOut}
		fs := pflag.NewFlagSet("classify", pflag.ExitOnError)
		fs.StringVar(&opts.HTML, "html", "", "HTML document to load")
		fs.StringVar(&opts.Selector, "selector", "", "CSS selector for the event target")
		fs.StringVar(&opts.Event, "event", "click", "DOM event type")
		_ = fs.Parse(subArgs)
		err = ctl.Classify(opts)

	case "watch":
		opts := ctl.WatchOptions{Filter: *filter, JSON: *jsonOut}
		fs := pflag.NewFlagSet("watch", pflag.ExitOnError)
		fs.IntVar(&opts.Count, "count", 0, "Exit after this many events")
		_ = fs.Parse(subArgs)
		err = ctl.Watch(*host, opts)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  stctl - storytime agent control CLI

  USAGE
    stctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show channel state, session, recording and viewers
    health          Check agent and component health
    version         Show CLI and agent version information
    config          Show the agent's running configuration
    logs            Show recent agent log messages
    identity        Show the cached customer and session, or identify the visitor

  COMMANDS (control)
    reset           Finish the session and start over as a new visitor

  COMMANDS (offline)
    classify        Show what autocapture would record for an element

  COMMANDS (live)
    watch           Stream live events from the agent (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Agent base URL (default: http://127.0.0.1:8420)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    logs:
        --level LEVEL       Filter by log level
        --limit N           Limit number of log entries shown
        --tail              Stream live log events

    identity:
        --db PATH           Read the store file directly
        --customer-id ID    Adopt a customer id resolved elsewhere
        --name NAME         Identify with a name
        --email EMAIL       Identify with an email
        --external-id ID    Identify with an external id

    reset:
        --db PATH           Clear the store file directly

    classify:
        --html FILE         HTML document to load
        --selector SEL      CSS selector for the event target
        --event TYPE        DOM event type (default: click)

    watch:
        --count N           Exit after N events

  EXAMPLES
    stctl status
    stctl --json status
    stctl --host http://10.0.0.5:8420 watch
    stctl watch --filter state,presence,recording
    stctl logs --level warn --limit 20
    stctl identity --email ada@example.com --external-id u-42
    stctl identity --db /var/lib/storytime/storytime.db
    stctl reset
    stctl classify --html page.html --selector '#checkout button'

`)
}
