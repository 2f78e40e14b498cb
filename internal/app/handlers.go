package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/large-farva/storytime/internal/identity"
	"github.com/large-farva/storytime/internal/page"
	"github.com/large-farva/storytime/internal/tracker"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	tracker.Status
	Name          string `json:"name"`
	Version       string `json:"version"`
	Mode          string `json:"mode"`
	BaseURL       string `json:"base_url"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Watchers      int    `json:"watchers"`
	Storage       bool   `json:"storage"`
}

// IdentityResponse is the body of GET and POST /api/identity.
type IdentityResponse struct {
	AccountID  string `json:"account_id"`
	CustomerID string `json:"customer_id"`
	SessionID  string `json:"session_id"`
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{}
	allOK := true

	storageCheck := map[string]any{"ok": a.store.Supported(), "path": a.cfg.Storage.Path}
	if a.cfg.Storage.Path != "" {
		if du := diskUsage(filepath.Dir(a.cfg.Storage.Path)); du != nil {
			storageCheck["disk"] = du
		}
	}
	// Running without storage is degraded, not unhealthy.
	checks["storage"] = storageCheck

	connected := a.socket.IsConnected()
	checks["socket"] = map[string]any{"ok": connected}
	allOK = allOK && connected

	state := a.tracker.State()
	checks["channel"] = map[string]any{"ok": state == tracker.Joined, "state": state.String()}
	allOK = allOK && state == tracker.Joined

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        a.tracker.Snapshot(),
		Name:          "storytime",
		Version:       Version,
		Mode:          a.mode,
		BaseURL:       a.cfg.BaseURL,
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Watchers:      a.hub.Clients(),
		Storage:       a.store.Supported(),
	})
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
		"lib":        page.Lib,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg)
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries := a.logs.Entries(r.URL.Query().Get("level"), limit)
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// identifyRequest is the POST /api/identity body. A customer_id on its own
// adopts an id another system already resolved; otherwise the metadata is
// resolved like any visitor.
type identifyRequest struct {
	identity.CustomerMetadata
	CustomerID string `json:"customer_id"`
}

// handleIdentity reports the cached ids on GET. POST identifies the current
// session as the customer described by the JSON body.
func (a *App) handleIdentity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req identifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid customer metadata: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.CustomerID != "" {
			if req.CustomerMetadata.Name != "" || req.CustomerMetadata.Email != "" || req.CustomerMetadata.ExternalID != "" || len(req.CustomerMetadata.Metadata) > 0 {
				jsonError(w, "customer_id cannot be combined with customer metadata", http.StatusBadRequest)
				return
			}
			a.log.Info().Str("customer_id", req.CustomerID).Msg("adopting customer id")
			a.identity.Adopt(req.CustomerID)
			break
		}
		if _, err := a.tracker.Identify(r.Context(), req.CustomerMetadata); err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, tracker.ErrNotJoined) {
				code = http.StatusConflict
			}
			jsonError(w, err.Error(), code)
			return
		}
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := a.tracker.Snapshot()
	resp := IdentityResponse{
		AccountID:  a.cfg.AccountID,
		CustomerID: snap.CustomerID,
		SessionID:  snap.SessionID,
	}
	if resp.CustomerID == "" {
		resp.CustomerID = a.identity.Cached()
	}
	if resp.SessionID == "" {
		resp.SessionID = a.sessions.Cached()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReset finishes the current session, forgets the cached customer and
// session, and connects again as a brand new visitor.
func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.tracker.Finish()
	if err := a.identity.Forget(); err != nil {
		a.log.Warn().Err(err).Msg("forget customer")
	}
	if err := a.sessions.Forget(); err != nil {
		a.log.Warn().Err(err).Msg("forget session")
	}
	a.log.Info().Msg("identity reset, reconnecting")

	if err := a.tracker.Connect(r.Context()); err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, a.tracker.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}
