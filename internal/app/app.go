// Package app wires the capture engine into a long-running agent: storage,
// the REST client, the realtime socket, the hosted page and its driver
// (demo loop or script), plus the local HTTP surface that stctl talks to.
// It owns the agent's lifecycle from start until the session is finished.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/api"
	"github.com/large-farva/storytime/internal/autocapture"
	"github.com/large-farva/storytime/internal/config"
	"github.com/large-farva/storytime/internal/demo"
	"github.com/large-farva/storytime/internal/dom"
	"github.com/large-farva/storytime/internal/identity"
	"github.com/large-farva/storytime/internal/page"
	"github.com/large-farva/storytime/internal/phoenix"
	"github.com/large-farva/storytime/internal/recorder"
	"github.com/large-farva/storytime/internal/session"
	"github.com/large-farva/storytime/internal/storage"
	"github.com/large-farva/storytime/internal/telemetry"
	"github.com/large-farva/storytime/internal/tracker"
	"github.com/large-farva/storytime/internal/ws"
)

// drainTimeout bounds how long shutdown waits for in-flight beacons.
const drainTimeout = 3 * time.Second

// Driver modes reported by /api/status.
const (
	ModeDemo   = "demo"
	ModeScript = "script"
	ModeIdle   = "idle"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     zerolog.Logger
	Logs       *LogBuffer
	Cfg        config.Config
	ConfigPath string
	Bind       string

	// HTTPClient overrides the REST transport.
	HTTPClient *http.Client
}

// App is the agent process.
type App struct {
	log        zerolog.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server
	startedAt  time.Time
	mode       string

	hub        *ws.Hub
	logs       *LogBuffer
	store      storage.Store
	closeStore func() error
	client     *api.Client
	page       *page.Page
	socket     *phoenix.Socket
	identity   *identity.Resolver
	sessions   *session.Resolver
	tracker    *tracker.Tracker
	steps      []page.Step
}

// New builds the agent from cfg. Nothing touches the network until Run.
func New(opts Options) (*App, error) {
	a := &App{
		log:        opts.Logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		hub:        ws.NewHub(ws.DefaultBacklog),
		logs:       opts.Logs,
		closeStore: func() error { return nil },
	}
	if a.logs == nil {
		a.logs = NewLogBuffer(500)
	}
	a.logs.Forward(func(e LogEntry) {
		a.hub.BroadcastJSON(telemetry.LogLine{
			Event:     telemetry.Event{Type: telemetry.EventLog, TS: e.TS},
			Level:     e.Level,
			Message:   e.Message,
			Component: e.Component,
		})
	})

	doc, err := a.loadDocument()
	if err != nil {
		return nil, err
	}
	a.page, err = page.New(doc, a.cfg.Page.URL, Version)
	if err != nil {
		return nil, fmt.Errorf("page: %w", err)
	}

	if a.cfg.Page.Script != "" {
		a.steps, err = loadScript(a.cfg.Page.Script)
		if err != nil {
			return nil, err
		}
		a.mode = ModeScript
	} else if a.cfg.Demo.Enabled {
		a.mode = ModeDemo
	} else {
		a.mode = ModeIdle
	}

	a.openStore()

	var clientOpts []api.Option
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	a.client = api.New(a.cfg.BaseURL, a.log, clientOpts...)

	endpoint, err := api.WebsocketURL(a.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	a.socket = phoenix.NewSocket(endpoint, phoenix.WithLogger(a.log))

	a.identity = identity.New(identity.Options{
		Store:   a.store,
		Backend: a.client,
		Info:    a.page.Info,
		Logger:  a.log,
	})

	// Session-scoped ids share the durable file so a restart resumes the
	// session; otherwise they last as long as the process.
	var sessionStore storage.Store = storage.NewMemory()
	if a.cfg.Storage.SessionScoped {
		sessionStore = a.store
	}
	a.sessions = session.New(session.Options{
		Store:   sessionStore,
		Backend: a.client,
		Info:    a.page.Info,
		Logger:  a.log,
	})

	agg := autocapture.NewAggregator(doc, a.cfg.CustomProperties, a.log)
	a.tracker = tracker.New(tracker.Options{
		AccountID: a.cfg.AccountID,
		Customer:  a.cfg.Customer,
		Blocklist: a.cfg.Blocklist,
		Transport: tracker.NewPhoenixTransport(a.socket),
		Recorder:  recorder.NewPageRecorder(a.page, agg, a.log),
		Host:      a.page,
		Identity:  a.identity,
		Sessions:  a.sessions,
		Backend:   a.client,
		Logger:    a.log,
		Notify:    a.hub.BroadcastJSON,
	})
	return a, nil
}

func (a *App) loadDocument() (*dom.Document, error) {
	if a.cfg.Page.Document == "" {
		return demo.Storefront()
	}
	f, err := os.Open(a.cfg.Page.Document)
	if err != nil {
		return nil, fmt.Errorf("page document: %w", err)
	}
	defer f.Close()
	return dom.Parse(f)
}

func loadScript(path string) ([]page.Step, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("page script: %w", err)
	}
	defer f.Close()
	return page.ParseScript(f)
}

// openStore opens the durable store. Any failure degrades to running
// without storage, where every start creates a new customer and session.
func (a *App) openStore() {
	a.store = storage.Unavailable{}
	path := a.cfg.Storage.Path
	if path == "" {
		a.log.Warn().Msg("storage.path is empty, ids will not be cached")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("storage unavailable")
		return
	}
	db, err := storage.OpenSQLite(path)
	if err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("storage unavailable")
		return
	}
	a.store = db
	a.closeStore = db.Close
}

// Run serves the local HTTP surface, connects the tracker, and drives the
// page. It blocks until ctx is cancelled or the server fails, and finishes
// the session on the way out.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.cfg.Server.Bind
	}

	telemetry.Init()

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.log.Info().Str("addr", ln.Addr().String()).Str("mode", a.mode).Msg("listening")

	go a.hub.Run(ctx)
	go a.heartbeatLoop(ctx)

	go func() {
		if err := a.tracker.Connect(ctx); err != nil {
			// Already logged by the tracker; the agent keeps serving status.
			return
		}
		a.drive(ctx)
	}()

	go func() {
		<-ctx.Done()
		a.log.Info().Msg("shutdown requested")
		a.shutdown()
		_ = a.server.Shutdown(context.Background())
	}()

	if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// drive starts whichever page driver the config selects.
func (a *App) drive(ctx context.Context) {
	switch a.mode {
	case ModeScript:
		if err := a.page.Run(ctx, a.steps); err != nil && ctx.Err() == nil {
			a.log.Error().Err(err).Msg("script failed")
			return
		}
		a.log.Info().Int("steps", len(a.steps)).Msg("script finished")
	case ModeDemo:
		r := demo.New(a.page, a.log)
		if a.cfg.Demo.IntervalSeconds > 0 {
			r.Interval = time.Duration(a.cfg.Demo.IntervalSeconds) * time.Second
		}
		r.Run(ctx)
	}
}

func (a *App) shutdown() {
	a.tracker.Finish()
	if !a.client.Drain(drainTimeout) {
		a.log.Warn().Dur("timeout", drainTimeout).Msg("beacons still in flight at exit")
	}
	if err := a.closeStore(); err != nil {
		a.log.Warn().Err(err).Msg("close storage")
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/logs", a.handleLogs)
	mux.HandleFunc("/api/identity", a.handleIdentity)
	mux.HandleFunc("/api/reset", a.handleReset)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", a.hub.Handler())
	return mux
}

// heartbeatLoop sends a periodic heartbeat so watchers can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.hub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.NewEvent(telemetry.EventHeartbeat),
				State:         a.tracker.State().String(),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			})
		}
	}
}
