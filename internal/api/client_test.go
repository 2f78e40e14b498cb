package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Query  map[string][]string
	Body   map[string]any
	Form   map[string][]string
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(w http.ResponseWriter)
}

func newFakeBackend(t *testing.T) (*fakeBackend, *Client) {
	t.Helper()
	fb := &fakeBackend{routes: make(map[string]func(http.ResponseWriter))}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return fb, New(srv.URL, zerolog.Nop())
}

func (fb *fakeBackend) handle(method, path string, status int, data any) {
	fb.routes[method+" "+path] = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if data != nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
		}
	}
}

func (fb *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		_ = r.ParseForm()
		rec.Form = r.PostForm
	} else if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		if len(b) > 0 {
			_ = json.Unmarshal(b, &rec.Body)
		}
	}
	fb.mu.Lock()
	fb.requests = append(fb.requests, rec)
	route, ok := fb.routes[r.Method+" "+r.URL.Path]
	fb.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	route(w)
}

func (fb *fakeBackend) all() []recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recorded(nil), fb.requests...)
}

func TestCreateCustomer(t *testing.T) {
	fb, c := newFakeBackend(t)
	fb.handle("POST", "/api/customers", http.StatusCreated, map[string]any{"id": "cust_1"})

	got, err := c.CreateCustomer(context.Background(), "acct_1", map[string]any{"email": "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "cust_1", got.ID)

	reqs := fb.all()
	require.Len(t, reqs, 1)
	customer, ok := reqs[0].Body["customer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "acct_1", customer["account_id"])
	assert.Equal(t, "a@b.c", customer["email"])
	assert.NotEmpty(t, customer["first_seen"])
	assert.NotEmpty(t, customer["last_seen"])
}

func TestFindCustomerByExternalID(t *testing.T) {
	fb, c := newFakeBackend(t)
	fb.handle("GET", "/api/customers/identify", http.StatusOK, map[string]any{"customer_id": "cust_9"})

	id, err := c.FindCustomerByExternalID(context.Background(), "ext_1", "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "cust_9", id)

	reqs := fb.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"ext_1"}, reqs[0].Query["external_id"])
	assert.Equal(t, []string{"acct_1"}, reqs[0].Query["account_id"])

	fb.handle("GET", "/api/customers/identify", http.StatusOK, map[string]any{"customer_id": nil})
	id, err = c.FindCustomerByExternalID(context.Background(), "ext_2", "acct_1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestBrowserSessionCalls(t *testing.T) {
	fb, c := newFakeBackend(t)
	fb.handle("POST", "/api/browser_sessions", http.StatusCreated, map[string]any{"id": "sess_1"})
	fb.handle("GET", "/api/browser_sessions/sess_1/exists", http.StatusOK, true)
	fb.handle("GET", "/api/browser_sessions/gone/exists", http.StatusOK, false)
	ctx := context.Background()

	s, err := c.CreateBrowserSession(ctx, "acct_1", "", map[string]any{"pathname": "/"})
	require.NoError(t, err)
	assert.Equal(t, "sess_1", s.ID)

	ok, err := c.BrowserSessionExists(ctx, "sess_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.BrowserSessionExists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.IdentifyBrowserSession(ctx, "sess_1", "cust_1"))
	require.NoError(t, c.UpdateCustomerMetadata(ctx, "cust_1", map[string]any{"plan": "pro"}))

	reqs := fb.all()
	require.Len(t, reqs, 5)

	session := reqs[0].Body["browser_session"].(map[string]any)
	assert.Equal(t, "acct_1", session["account_id"])
	assert.Nil(t, session["customer_id"])
	assert.Contains(t, session, "started_at")

	assert.Equal(t, "/api/browser_sessions/sess_1/identify", reqs[3].Path)
	assert.Equal(t, "cust_1", reqs[3].Body["customer_id"])

	assert.Equal(t, "PUT", reqs[4].Method)
	assert.Equal(t, "/api/customers/cust_1/metadata", reqs[4].Path)
	assert.Equal(t, map[string]any{"plan": "pro"}, reqs[4].Body["metadata"])
}

func TestStatusError(t *testing.T) {
	fb, c := newFakeBackend(t)
	fb.routes["POST /api/customers"] = func(w http.ResponseWriter) {
		http.Error(w, "account disabled", http.StatusForbidden)
	}

	_, err := c.CreateCustomer(context.Background(), "acct_1", nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "account disabled", se.Body)
	assert.Contains(t, err.Error(), "create customer")
}

func TestBeacons(t *testing.T) {
	fb, c := newFakeBackend(t)

	c.RestartBrowserSession("sess_1")
	c.FinishBrowserSession("sess_1")
	require.True(t, c.Drain(2*time.Second))

	reqs := fb.all()
	require.Len(t, reqs, 2)

	paths := []string{reqs[0].Path, reqs[1].Path}
	assert.ElementsMatch(t, []string{
		"/api/browser_sessions/sess_1/restart",
		"/api/browser_sessions/sess_1/finish",
	}, paths)

	for _, r := range reqs {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, []string{"1"}, r.Query["ip"])
		assert.NotEmpty(t, r.Query["_"])
		require.Len(t, r.Form["data"], 1)
		raw, err := base64.StdEncoding.DecodeString(r.Form["data"][0])
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(raw))
	}
}

func TestDrainTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(srv.URL, zerolog.Nop())
	c.FinishBrowserSession("sess_1")
	assert.False(t, c.Drain(50*time.Millisecond))
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://app.papercups.io", "wss://app.papercups.io/socket"},
		{"http://localhost:4000/", "ws://localhost:4000/socket"},
		{"", "wss://app.papercups.io/socket"},
		{"https://example.com/nested/path", "wss://example.com/socket"},
	}
	for _, tt := range tests {
		got, err := WebsocketURL(tt.base)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.base)
	}

	_, err := WebsocketURL("not a url")
	assert.Error(t, err)
}

func TestNewDefaultsBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("", zerolog.Nop()).BaseURL())
	assert.Equal(t, "http://x", New("http://x/", zerolog.Nop()).BaseURL())
}
