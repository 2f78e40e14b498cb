package ctl

import (
	"errors"
	"fmt"

	"github.com/large-farva/storytime/internal/identity"
	"github.com/large-farva/storytime/internal/session"
	"github.com/large-farva/storytime/internal/storage"
)

// ResetOptions configures the reset command.
type ResetOptions struct {
	// DB clears the store file directly, for use while the agent is stopped.
	DB   string
	JSON bool
}

// Reset makes the agent forget its visitor: the current session is
// finished and the next connect creates a new customer and session.
func Reset(baseURL string, opts ResetOptions) error {
	if opts.DB != "" {
		return resetStore(opts.DB, opts.JSON)
	}

	var s StatusResponse
	if err := postJSON(baseURL, "/api/reset", nil, &s); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(s)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  %s  new visitor %s, session %s (%s)\n",
		colorize(green, "RESET"),
		orDash(s.CustomerID),
		orDash(s.SessionID),
		colorize(stateColor(s.State), s.State),
	)
	fmt.Fprintln(stdout)
	return nil
}

func resetStore(path string, jsonOutput bool) error {
	db, err := openExisting(path)
	if err != nil {
		return err
	}
	defer db.Close()

	var removed []string
	for _, key := range []string{identity.CacheKey, session.CacheKey} {
		if _, err := db.Get(key); errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err := db.Remove(key); err != nil {
			return err
		}
		removed = append(removed, key)
	}

	if jsonOutput {
		return printJSON(map[string]any{"removed": removed})
	}
	fmt.Fprintln(stdout)
	if len(removed) == 0 {
		fmt.Fprintf(stdout, "  %s  nothing cached in %s\n", colorize(dim, "RESET"), path)
	} else {
		fmt.Fprintf(stdout, "  %s  cleared %d key(s) from %s\n", colorize(green, "RESET"), len(removed), path)
	}
	fmt.Fprintln(stdout)
	return nil
}
