package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/storytime/internal/config"
	"github.com/large-farva/storytime/internal/phoenix"
	"github.com/large-farva/storytime/internal/session"
	"github.com/large-farva/storytime/internal/storage"
	"github.com/large-farva/storytime/internal/tracker"
)

// backend fakes the Papercups REST API and its Phoenix socket.
type backend struct {
	mu        sync.Mutex
	customers int
	sessions  int
	requests  []string
}

func (b *backend) record(r *http.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	b.mu.Unlock()
}

func (b *backend) seen(req string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.requests {
		if r == req {
			return true
		}
	}
	return false
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	data := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
	}
	mux.HandleFunc("POST /api/customers", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		b.mu.Lock()
		b.customers++
		id := fmt.Sprintf("cust_%d", b.customers)
		b.mu.Unlock()
		data(w, map[string]any{"id": id})
	})
	mux.HandleFunc("PUT /api/customers/{id}/metadata", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		data(w, map[string]any{})
	})
	mux.HandleFunc("POST /api/browser_sessions", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		b.mu.Lock()
		b.sessions++
		id := fmt.Sprintf("sess_%d", b.sessions)
		b.mu.Unlock()
		data(w, map[string]any{"id": id})
	})
	mux.HandleFunc("GET /api/browser_sessions/{id}/exists", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		data(w, true)
	})
	mux.HandleFunc("POST /api/browser_sessions/{id}/{action}", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		data(w, map[string]any{})
	})
	mux.HandleFunc("/socket/websocket", b.socket)
	return mux
}

func (b *backend) socket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m phoenix.Message
		if json.Unmarshal(raw, &m) != nil || m.Event != phoenix.EventJoin {
			continue
		}
		reply, _ := json.Marshal(phoenix.Message{JoinRef: m.JoinRef, Ref: m.Ref, Topic: m.Topic, Event: phoenix.EventReply,
			Payload: json.RawMessage(`{"status":"ok","response":{}}`)})
		_ = conn.WriteMessage(websocket.TextMessage, reply)
	}
}

func newTestApp(t *testing.T, configure ...func(*config.Config)) (*App, *backend) {
	t.Helper()
	be := &backend{}
	srv := httptest.NewServer(be.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.AccountID = "acct_1"
	cfg.BaseURL = srv.URL
	cfg.Storage.Path = filepath.Join(t.TempDir(), "storytime.db")
	cfg.Demo.Enabled = false
	for _, fn := range configure {
		fn(&cfg)
	}

	logs := NewLogBuffer(100)
	a, err := New(Options{
		Logger: NewLogger(cfg, io.Discard, logs),
		Logs:   logs,
		Cfg:    cfg,
	})
	require.NoError(t, err)
	t.Cleanup(a.shutdown)
	return a, be
}

func connect(t *testing.T, a *App) {
	t.Helper()
	require.NoError(t, a.tracker.Connect(context.Background()))
	require.Eventually(t, func() bool { return a.tracker.State() == tracker.Joined }, 2*time.Second, 10*time.Millisecond)
}

func get(t *testing.T, a *App, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)
	return rec
}

func post(t *testing.T, a *App, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)
	return rec
}

func TestNewDefaultsToIdleMode(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Equal(t, ModeIdle, a.mode)
	assert.True(t, a.store.Supported())
}

func TestNewRejectsMissingScript(t *testing.T) {
	cfg := config.Default()
	cfg.AccountID = "acct_1"
	cfg.Storage.Path = ""
	cfg.Page.Script = filepath.Join(t.TempDir(), "missing.jsonl")

	_, err := New(Options{Cfg: cfg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page script")
}

func TestStatusAfterJoin(t *testing.T) {
	a, _ := newTestApp(t)
	connect(t, a)

	rec := get(t, a, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "joined", st.State)
	assert.Equal(t, "acct_1", st.AccountID)
	assert.Equal(t, "cust_1", st.CustomerID)
	assert.Equal(t, "sess_1", st.SessionID)
	assert.Equal(t, "events:acct_1:sess_1", st.Channel)
	assert.Equal(t, ModeIdle, st.Mode)
	assert.True(t, st.Storage)
	assert.False(t, st.Recording)
}

func TestHealthz(t *testing.T) {
	a, _ := newTestApp(t)

	rec := get(t, a, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	// Not joined yet: detailed health reports unhealthy.
	rec = get(t, a, "/healthz", "Accept", "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	connect(t, a)
	rec = get(t, a, "/healthz", "Accept", "application/json")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Healthy)
	assert.Equal(t, true, body.Checks["storage"]["ok"])
	assert.Equal(t, "joined", body.Checks["channel"]["state"])
}

func TestIdentityEndpoint(t *testing.T) {
	a, be := newTestApp(t)

	rec := post(t, a, "/api/identity", `{"name":"Ada"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	connect(t, a)

	rec = get(t, a, "/api/identity")
	require.Equal(t, http.StatusOK, rec.Code)
	var ids IdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, IdentityResponse{AccountID: "acct_1", CustomerID: "cust_1", SessionID: "sess_1"}, ids)

	rec = post(t, a, "/api/identity", `{"name":"Ada","email":"ada@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, be.seen("PUT /api/customers/cust_1/metadata"))

	rec = post(t, a, "/api/identity", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityEndpointAdoptsCustomerID(t *testing.T) {
	a, be := newTestApp(t)
	connect(t, a)

	rec := post(t, a, "/api/identity", `{"customer_id":"cust_42"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ids IdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, "cust_42", ids.CustomerID)
	assert.Equal(t, "cust_42", a.identity.Cached())
	assert.True(t, be.seen("POST /api/browser_sessions/sess_1/identify"))

	rec = post(t, a, "/api/identity", `{"customer_id":"cust_43","email":"ada@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cust_42", a.identity.Cached())
}

func TestSessionIDInMemoryWhenNotSessionScoped(t *testing.T) {
	a, _ := newTestApp(t, func(c *config.Config) { c.Storage.SessionScoped = false })
	connect(t, a)

	assert.Equal(t, "sess_1", a.sessions.Cached())
	_, err := a.store.Get(session.CacheKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResetStartsNewVisitor(t *testing.T) {
	a, be := newTestApp(t)
	connect(t, a)

	rec := post(t, a, "/api/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st tracker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "cust_2", st.CustomerID)
	assert.Equal(t, "sess_2", st.SessionID)

	require.Eventually(t, func() bool { return a.client.Drain(time.Second) && be.seen("POST /api/browser_sessions/sess_1/finish") },
		2*time.Second, 10*time.Millisecond)

	rec = get(t, a, "/api/reset")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLogsEndpoint(t *testing.T) {
	a, _ := newTestApp(t)
	connect(t, a)

	rec := get(t, a, "/api/logs?level=info")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Logs []LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Logs)
	var messages []string
	for _, e := range body.Logs {
		assert.Equal(t, "info", e.Level)
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "joining channel")

	rec = get(t, a, "/api/logs?limit=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersionAndConfig(t *testing.T) {
	a, _ := newTestApp(t)

	rec := get(t, a, "/api/version")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"dev"`)

	rec = get(t, a, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, "acct_1", cfg.AccountID)
}

func TestShutdownFinishesSession(t *testing.T) {
	a, be := newTestApp(t)
	connect(t, a)

	a.shutdown()

	assert.True(t, be.seen("POST /api/browser_sessions/sess_1/finish"))
	assert.Equal(t, tracker.Disconnected, a.tracker.State())
}
