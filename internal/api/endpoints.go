package api

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"time"
)

// Customer is the subset of the customer record the agent reads back.
type Customer struct {
	ID string `json:"id"`
}

// BrowserSession is the subset of the browser session record the agent
// reads back.
type BrowserSession struct {
	ID string `json:"id"`
}

// CreateCustomer registers a new customer for accountID. metadata is
// flattened into the customer object next to the account and timestamps.
func (c *Client) CreateCustomer(ctx context.Context, accountID string, metadata map[string]any) (Customer, error) {
	now := time.Now().UTC()
	customer := make(map[string]any, len(metadata)+3)
	maps.Copy(customer, metadata)
	customer["account_id"] = accountID
	customer["first_seen"] = now
	customer["last_seen"] = now

	var out Customer
	if err := c.do(ctx, "POST", "/api/customers", nil, map[string]any{"customer": customer}, &out); err != nil {
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}
	return out, nil
}

// UpdateCustomerMetadata replaces the stored metadata of a customer.
func (c *Client) UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]any) error {
	path := "/api/customers/" + url.PathEscape(customerID) + "/metadata"
	if err := c.do(ctx, "PUT", path, nil, map[string]any{"metadata": metadata}, nil); err != nil {
		return fmt.Errorf("update customer metadata: %w", err)
	}
	return nil
}

// FindCustomerByExternalID looks up the customer carrying externalID. An
// empty id with a nil error means there is no match.
func (c *Client) FindCustomerByExternalID(ctx context.Context, externalID, accountID string) (string, error) {
	query := url.Values{"external_id": {externalID}, "account_id": {accountID}}
	var out struct {
		CustomerID *string `json:"customer_id"`
	}
	if err := c.do(ctx, "GET", "/api/customers/identify", query, nil, &out); err != nil {
		return "", fmt.Errorf("identify customer: %w", err)
	}
	if out.CustomerID == nil {
		return "", nil
	}
	return *out.CustomerID, nil
}

// CreateBrowserSession opens a new browser session. An empty customerID is
// sent as null.
func (c *Client) CreateBrowserSession(ctx context.Context, accountID, customerID string, metadata map[string]any) (BrowserSession, error) {
	body := map[string]any{
		"browser_session": map[string]any{
			"account_id":  accountID,
			"customer_id": nullable(customerID),
			"started_at":  time.Now().UTC(),
			"metadata":    metadata,
		},
	}
	var out BrowserSession
	if err := c.do(ctx, "POST", "/api/browser_sessions", nil, body, &out); err != nil {
		return BrowserSession{}, fmt.Errorf("create browser session: %w", err)
	}
	return out, nil
}

// BrowserSessionExists asks whether sessionID is still known to the backend.
func (c *Client) BrowserSessionExists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	path := "/api/browser_sessions/" + url.PathEscape(sessionID) + "/exists"
	if err := c.do(ctx, "GET", path, nil, nil, &exists); err != nil {
		return false, fmt.Errorf("check browser session: %w", err)
	}
	return exists, nil
}

// IdentifyBrowserSession binds customerID to the session.
func (c *Client) IdentifyBrowserSession(ctx context.Context, sessionID, customerID string) error {
	path := "/api/browser_sessions/" + url.PathEscape(sessionID) + "/identify"
	if err := c.do(ctx, "POST", path, nil, map[string]any{"customer_id": customerID}, nil); err != nil {
		return fmt.Errorf("identify browser session: %w", err)
	}
	return nil
}

// RestartBrowserSession clears a previous finish on the session. It is a
// beacon: it returns before the request completes.
func (c *Client) RestartBrowserSession(sessionID string) {
	c.Beacon("/api/browser_sessions/"+url.PathEscape(sessionID)+"/restart", map[string]any{})
}

// FinishBrowserSession marks the session finished. It is a beacon so it
// survives the caller going away right after.
func (c *Client) FinishBrowserSession(sessionID string) {
	c.Beacon("/api/browser_sessions/"+url.PathEscape(sessionID)+"/finish", map[string]any{})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
