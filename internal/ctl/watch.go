package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/storytime/internal/recorder"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
	Count  int      // exit after this many shown events (0 = run until interrupted)
}

// Watch connects to the agent's WebSocket endpoint and streams events to
// the terminal in a human-readable format until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watch(ctx, baseURL, opts)
}

// watchURL maps the agent's HTTP address to its event stream.
func watchURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func watch(ctx context.Context, baseURL string, opts WatchOptions) error {
	endpoint, err := watchURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "  %s %s\n", colorize(green, "connected"), colorize(dim, endpoint))
		if len(opts.Filter) > 0 {
			fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Fprintln(stdout, rule(50))
		fmt.Fprintln(stdout)
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		shown := 0
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if len(filterSet) > 0 {
				var ev struct {
					Type string `json:"type"`
				}
				if err := json.Unmarshal(msg, &ev); err == nil && !filterSet[ev.Type] {
					continue
				}
			}

			if opts.JSON {
				fmt.Fprintln(stdout, string(msg))
			} else {
				renderEvent(msg)
			}

			shown++
			if opts.Count > 0 && shown >= opts.Count {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		if !opts.JSON {
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

// renderEvent parses a JSON event and prints it in a human-friendly format.
// Falls back to indented JSON for unrecognized event types.
func renderEvent(raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Fprintf(stdout, "  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	ts := colorize(dim, formatEventTime(ev))

	switch evType {
	case "heartbeat":
		// Heartbeats are noisy, keep them dim and on one line.
		state, _ := ev["state"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		fmt.Fprintf(stdout, "  %s %s  %s  up %s\n",
			ts,
			colorize(dim, "heartbeat"),
			colorize(stateColor(state), state),
			colorize(dim, formatDuration(time.Duration(uptime)*time.Second)),
		)

	case "state":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		fmt.Fprintf(stdout, "  %s %s  %s %s %s\n",
			ts,
			colorize(bold, "STATE"),
			colorize(stateColor(from), from),
			colorize(dim, "->"),
			colorize(stateColor(to), to),
		)

	case "log":
		level, _ := ev["level"].(string)
		message, _ := ev["message"].(string)
		component, _ := ev["component"].(string)
		src := ""
		if component != "" {
			src = colorize(dim, "["+component+"] ")
		}
		fmt.Fprintf(stdout, "  %s %s  %s%s\n", ts, formatLogLevel(level), src, message)

	case "presence":
		var viewers []string
		if list, ok := ev["viewers"].([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					viewers = append(viewers, s)
				}
			}
		}
		who := colorize(dim, "nobody watching")
		if len(viewers) > 0 {
			who = fmt.Sprintf("%d watching: %s", len(viewers), strings.Join(viewers, ", "))
		}
		fmt.Fprintf(stdout, "  %s %s  %s\n", ts, colorize(cyan, "VIEWERS"), who)

	case "recording":
		on, _ := ev["recording"].(bool)
		label := colorize(dim, "stopped")
		if on {
			label = colorize(blue, "started")
		}
		fmt.Fprintf(stdout, "  %s %s  %s\n", ts, colorize(bold, "RECORD"), label)

	case "capture":
		kind, _ := ev["kind"].(float64)
		path, _ := ev["path"].(string)
		dropped, _ := ev["dropped"].(bool)
		verdict := colorize(green, "sent   ")
		if dropped {
			verdict = colorize(yellow, "blocked")
		}
		fmt.Fprintf(stdout, "  %s %s  %s %-14s %s\n", ts, colorize(dim, "capture"), verdict, recorder.EventType(kind).String(), colorize(dim, path))

	default:
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			fmt.Fprintf(stdout, "  %s\n", string(raw))
			return
		}
		fmt.Fprintf(stdout, "  %s\n", string(pretty))
	}
}

// formatEventTime extracts and shortens the timestamp from an event.
func formatEventTime(ev map[string]any) string {
	tsRaw, ok := ev["ts"].(string)
	if !ok {
		return "        "
	}
	t, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return tsRaw
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return colorize(dim, "DEBUG")
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error", "fatal", "panic":
		return colorize(red, padRight(strings.ToUpper(level), 5))
	default:
		return padRight(level, 5)
	}
}
