// Package api is the REST client for the capture backend. Every call the
// agent makes against the backend lives here; responses arrive wrapped in a
// {"data": ...} envelope.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is used when the config leaves base_url empty.
const DefaultBaseURL = "https://app.papercups.io"

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

// Client talks to the backend. Beacon sends are tracked so a shutting-down
// process can give them a moment to leave.
type Client struct {
	baseURL string
	http    *http.Client
	beacon  *http.Client
	log     zerolog.Logger

	inflight sync.WaitGroup
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for ordinary requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBeaconTimeout bounds how long a beacon may take.
func WithBeaconTimeout(d time.Duration) Option {
	return func(c *Client) { c.beacon = &http.Client{Timeout: d} }
}

// New returns a client for baseURL.
func New(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		beacon:  &http.Client{Timeout: 5 * time.Second},
		log:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends a JSON request and decodes the data field of the response into
// dst when dst is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if dst == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		return fmt.Errorf("decode %s %s data: %w", method, path, err)
	}
	return nil
}

// Beacon posts to path in the background and returns immediately. There is
// no delivery confirmation; failures are only logged.
func (c *Client) Beacon(path string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("beacon payload")
		return
	}
	form := url.Values{"data": {base64.StdEncoding.EncodeToString(payload)}}
	query := url.Values{
		"ip": {"1"},
		"_":  {strconv.FormatInt(time.Now().UnixMilli(), 10)},
	}
	u := c.baseURL + path + "?" + query.Encode()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		resp, err := c.beacon.Post(u, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
		if err != nil {
			c.log.Debug().Err(err).Str("path", path).Msg("beacon failed")
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
}

// Drain waits up to timeout for outstanding beacons. It reports whether all
// of them finished.
func (c *Client) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WebsocketURL derives the realtime endpoint from a REST base URL: same
// host, wss for https and ws for everything else, path /socket.
func WebsocketURL(baseURL string) (string, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/socket"}).String(), nil
}
