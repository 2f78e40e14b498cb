package ctl

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/large-farva/storytime/internal/identity"
	"github.com/large-farva/storytime/internal/session"
	"github.com/large-farva/storytime/internal/storage"
)

// IdentityOptions configures the identity command. With DB set the store
// file is read directly; otherwise the running agent is asked. Any of Name,
// Email or ExternalID identifies the visitor through the agent, and
// CustomerID hands it an id resolved elsewhere.
type IdentityOptions struct {
	DB         string
	CustomerID string
	Name       string
	Email      string
	ExternalID string
	JSON       bool
}

// IdentityInfo is what the identity command reports.
type IdentityInfo struct {
	AccountID  string        `json:"account_id,omitempty"`
	CustomerID string        `json:"customer_id"`
	SessionID  string        `json:"session_id"`
	Entries    []StoredEntry `json:"entries,omitempty"`
}

// StoredEntry is one row of the local store.
type StoredEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// Identity shows, or sets, who the agent is recording.
func Identity(baseURL string, opts IdentityOptions) error {
	var (
		info IdentityInfo
		err  error
	)
	switch {
	case opts.DB != "":
		info, err = readStore(opts.DB)
	case opts.CustomerID != "":
		err = postJSON(baseURL, "/api/identity", map[string]string{"customer_id": opts.CustomerID}, &info)
	case opts.Name != "" || opts.Email != "" || opts.ExternalID != "":
		meta := identity.CustomerMetadata{Name: opts.Name, Email: opts.Email, ExternalID: opts.ExternalID}
		err = postJSON(baseURL, "/api/identity", meta, &info)
	default:
		err = getJSON(baseURL, "/api/identity", &info)
	}
	if err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(info)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  IDENTITY"))
	fmt.Fprintln(stdout, rule(44))
	if info.AccountID != "" {
		fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Account:"), info.AccountID)
	}
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Customer:"), orDash(info.CustomerID))
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Session:"), orDash(info.SessionID))
	if len(info.Entries) > 0 {
		fmt.Fprintln(stdout)
		for _, e := range info.Entries {
			fmt.Fprintf(stdout, "  %s %s %s\n", colorize(dim, e.UpdatedAt), padRight(e.Key, 32), e.Value)
		}
	}
	fmt.Fprintln(stdout)
	return nil
}

// readStore reads the cached ids straight from the store file.
func readStore(path string) (IdentityInfo, error) {
	db, err := openExisting(path)
	if err != nil {
		return IdentityInfo{}, err
	}
	defer db.Close()

	entries, err := db.Entries()
	if err != nil {
		return IdentityInfo{}, err
	}

	var info IdentityInfo
	for _, e := range entries {
		switch e.Key {
		case identity.CacheKey:
			// The customer id is stored JSON-encoded.
			if json.Unmarshal([]byte(e.Value), &info.CustomerID) != nil {
				info.CustomerID = e.Value
			}
		case session.CacheKey:
			info.SessionID = e.Value
		}
		info.Entries = append(info.Entries, StoredEntry{
			Key:       e.Key,
			Value:     e.Value,
			UpdatedAt: e.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return info, nil
}

// openExisting opens a store file without creating one.
func openExisting(path string) (*storage.SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return storage.OpenSQLite(path)
}
