// Package tracker owns the realtime session channel. It resolves who the
// visitor is and which session they are in, joins the session's channel,
// starts and stops the recorder as admin viewers come and go, reports page
// visibility, and tears everything down in order on Finish.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/identity"
	"github.com/large-farva/storytime/internal/phoenix"
	"github.com/large-farva/storytime/internal/recorder"
	"github.com/large-farva/storytime/internal/telemetry"
)

var (
	// ErrAlreadyStarted is returned by Connect while a connect sequence is
	// in progress or the channel is joined.
	ErrAlreadyStarted = errors.New("tracker: already connecting or joined")
	// ErrNotJoined is returned by Identify before the channel is joined.
	ErrNotJoined = errors.New("tracker: channel not joined")
	// errSuperseded ends a connect sequence overtaken by Finish.
	errSuperseded = errors.New("tracker: finished during connect")
)

const reidentifyTimeout = 10 * time.Second

// IdentityResolver resolves the customer id.
type IdentityResolver interface {
	Resolve(ctx context.Context, accountID string, meta identity.CustomerMetadata) (string, error)
	Observe(fn func(customerID string)) (unsubscribe func())
}

// SessionResolver resolves the browser session id.
type SessionResolver interface {
	Resolve(ctx context.Context, accountID, customerID string) (string, error)
}

// Backend is the part of the REST client the tracker calls directly.
type Backend interface {
	FinishBrowserSession(sessionID string)
	IdentifyBrowserSession(ctx context.Context, sessionID, customerID string) error
	UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]any) error
}

// Host is the page the tracker runs in.
type Host interface {
	Path() string
	Hidden() bool
	OnVisibilityChange(fn func(hidden bool)) (remove func())
	OnUnload(fn func()) (remove func())
}

// Options configures a Tracker.
type Options struct {
	AccountID string
	Customer  identity.CustomerMetadata
	Blocklist []string

	Transport Transport
	Recorder  recorder.Recorder
	Host      Host
	Identity  IdentityResolver
	Sessions  SessionResolver
	Backend   Backend
	Logger    zerolog.Logger

	// Notify, when set, receives local telemetry events (state changes,
	// presence, recording and capture activity).
	Notify func(v any)
}

// Status is a point-in-time view of the tracker.
type Status struct {
	State       string   `json:"state"`
	AccountID   string   `json:"account_id"`
	CustomerID  string   `json:"customer_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Channel     string   `json:"channel,omitempty"`
	Initialized bool     `json:"initialized"`
	Recording   bool     `json:"recording"`
	Viewers     []string `json:"viewers"`
	Path        string   `json:"path"`
	Hidden      bool     `json:"hidden"`
}

// Tracker is the session context: one socket, one channel and at most one
// running recording. It is safe for concurrent use.
type Tracker struct {
	accountID string
	blocklist []string
	transport Transport
	recorder  recorder.Recorder
	host      Host
	identity  IdentityResolver
	sessions  SessionResolver
	backend   Backend
	log       zerolog.Logger
	notify    func(v any)

	mu             sync.Mutex
	customer       identity.CustomerMetadata
	state          ChannelState
	gen            uint64
	errHandlerSet  bool
	initialized    bool
	customerID     string
	sessionID      string
	channel        Channel
	viewers        PresenceSet
	stopRecording  func()
	unsubscribe    []func()
	connectStarted time.Time
}

// New returns a disconnected tracker.
func New(opts Options) *Tracker {
	notify := opts.Notify
	if notify == nil {
		notify = func(any) {}
	}
	return &Tracker{
		accountID: opts.AccountID,
		customer:  opts.Customer,
		blocklist: opts.Blocklist,
		transport: opts.Transport,
		recorder:  opts.Recorder,
		host:      opts.Host,
		identity:  opts.Identity,
		sessions:  opts.Sessions,
		backend:   opts.Backend,
		log:       opts.Logger.With().Str("component", "tracker").Logger(),
		notify:    notify,
	}
}

// State returns the current channel state.
func (t *Tracker) State() ChannelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	s := Status{
		State:       t.state.String(),
		AccountID:   t.accountID,
		CustomerID:  t.customerID,
		SessionID:   t.sessionID,
		Initialized: t.initialized,
		Recording:   t.stopRecording != nil,
		Viewers:     t.viewers.SessionIDs(),
	}
	if t.sessionID != "" {
		s.Channel = ChannelName(t.accountID, t.sessionID)
	}
	t.mu.Unlock()

	s.Path = t.host.Path()
	s.Hidden = t.host.Hidden()
	return s
}

// Connect opens the socket, resolves the customer and session, and sends
// the channel join. It returns once the join is sent; the reply arrives
// asynchronously. Failures before the join are logged and returned, and
// leave the tracker disconnected.
func (t *Tracker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != Disconnected && t.state != JoinError {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	// A failed join leaves its channel and listeners behind.
	stale, staleSubs := t.channel, t.unsubscribe
	t.channel, t.unsubscribe = nil, nil
	from := t.setState(SignalConnect)
	gen := t.gen
	meta := t.customer
	registerErr := !t.errHandlerSet
	t.errHandlerSet = true
	t.connectStarted = time.Now()
	t.mu.Unlock()
	t.announce(from, Connecting)

	for _, off := range staleSubs {
		off()
	}
	if stale != nil {
		_ = stale.Leave()
	}

	if registerErr {
		t.transport.OnError(func(err error) {
			telemetry.Inc(telemetry.SocketErrors)
			t.log.Error().Err(err).Msg("socket error")
		})
	}

	if !t.transport.IsConnected() {
		if err := t.transport.Connect(ctx); err != nil {
			return t.abort(gen, fmt.Errorf("connect socket: %w", err))
		}
	}

	customerID, err := t.identity.Resolve(ctx, t.accountID, meta)
	if err != nil {
		return t.abort(gen, fmt.Errorf("resolve customer: %w", err))
	}
	if !t.setIfCurrent(gen, func() { t.customerID = customerID }) {
		return errSuperseded
	}

	sessionID, err := t.sessions.Resolve(ctx, t.accountID, customerID)
	if err != nil {
		return t.abort(gen, fmt.Errorf("resolve session: %w", err))
	}

	topic := ChannelName(t.accountID, sessionID)
	ch := t.transport.Channel(topic, map[string]any{"customerId": customerID})

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		_ = ch.Leave()
		return errSuperseded
	}
	t.sessionID = sessionID
	t.channel = ch
	from = t.setState(SignalJoinSent)
	t.mu.Unlock()
	t.announce(from, Joining)

	t.log.Info().Str("channel", topic).Str("customer_id", customerID).Msg("joining channel")
	ch.Join(
		func() { t.onJoined(gen, sessionID) },
		func(err error) { t.onJoinError(gen, err) },
	)

	off := t.host.OnVisibilityChange(func(bool) { t.pushVisibility() })
	if !t.setIfCurrent(gen, func() { t.unsubscribe = append(t.unsubscribe, off) }) {
		off()
	}
	return nil
}

func (t *Tracker) abort(gen uint64, err error) error {
	telemetry.Inc(telemetry.ConnectFailures)
	t.log.Error().Err(err).Msg("connect aborted")

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return err
	}
	from := t.setState(SignalAbort)
	t.mu.Unlock()
	t.announce(from, Disconnected)
	return err
}

func (t *Tracker) onJoined(gen uint64, sessionID string) {
	t.mu.Lock()
	if t.gen != gen || t.channel == nil {
		t.mu.Unlock()
		return
	}
	from := t.setState(SignalJoinOK)
	t.initialized = true
	ch := t.channel
	started := t.connectStarted
	t.mu.Unlock()

	telemetry.ObserveSeconds(telemetry.ConnectDuration, time.Since(started).Seconds())
	t.log.Info().Str("session_id", sessionID).Msg("channel joined")
	t.announce(from, Joined)

	ch.OnPresenceSync(func(entries []phoenix.Entry) { t.handlePresence(gen, entries) })

	offIdentity := t.identity.Observe(func(customerID string) { t.reidentify(gen, sessionID, customerID) })
	offUnload := t.host.OnUnload(func() {
		t.log.Debug().Str("session_id", sessionID).Msg("page unloading, finishing session")
		t.backend.FinishBrowserSession(sessionID)
	})
	if !t.setIfCurrent(gen, func() { t.unsubscribe = append(t.unsubscribe, offIdentity, offUnload) }) {
		offIdentity()
		offUnload()
		return
	}

	t.pushVisibility()
}

func (t *Tracker) onJoinError(gen uint64, err error) {
	telemetry.Inc(telemetry.JoinFailures)
	t.log.Error().Err(err).Msg("channel join failed")

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	from := t.setState(SignalJoinError)
	t.mu.Unlock()
	t.announce(from, JoinError)
}

// handlePresence restarts the recorder whenever admins are watching so the
// recording begins with a fresh snapshot, and stops it when none are.
func (t *Tracker) handlePresence(gen uint64, entries []phoenix.Entry) {
	viewers := ReducePresence(entries)

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.viewers = viewers
	stop := t.stopRecording
	t.stopRecording = nil
	t.mu.Unlock()

	telemetry.SetViewers(viewers.Len())
	t.notify(telemetry.PresenceChange{Event: telemetry.NewEvent(telemetry.EventPresence), Viewers: viewers.SessionIDs()})

	if stop != nil {
		stop()
	}
	if viewers.Len() == 0 {
		if stop != nil {
			t.log.Debug().Msg("no admin viewers, recording stopped")
			t.recordingChanged(false)
		}
		return
	}

	next := t.recorder.Start(t.emit)
	t.mu.Lock()
	if t.gen != gen || t.state != Joined {
		t.mu.Unlock()
		next()
		t.recordingChanged(false)
		return
	}
	t.stopRecording = next
	t.mu.Unlock()

	t.log.Debug().Int("viewers", viewers.Len()).Msg("recording started")
	t.recordingChanged(true)
}

func (t *Tracker) recordingChanged(on bool) {
	telemetry.SetBool(telemetry.RecordingGauge, on)
	t.notify(telemetry.RecordingChange{Event: telemetry.NewEvent(telemetry.EventRecording), Recording: on})
}

// emit forwards a recorder event to the channel unless the current path is
// blocklisted.
func (t *Tracker) emit(ev recorder.Event) {
	t.mu.Lock()
	ch, customerID := t.channel, t.customerID
	t.mu.Unlock()
	if ch == nil {
		return
	}

	path := t.host.Path()
	capture := telemetry.Capture{Event: telemetry.NewEvent(telemetry.EventCapture), Kind: int(ev.Type), Path: path}
	if !ShouldEmit(t.blocklist, path) {
		telemetry.Inc(telemetry.EventsBlocked)
		capture.Dropped = true
		t.notify(capture)
		return
	}

	if err := ch.Push(telemetry.ReplayEventEmitted, telemetry.ReplayEvent{Event: ev, CustomerID: customerID}); err != nil {
		telemetry.Inc(telemetry.PushFailures)
		t.log.Warn().Err(err).Msg("push replay event")
		return
	}
	telemetry.Inc(telemetry.EventsEmitted)
	t.notify(capture)
}

func (t *Tracker) pushVisibility() {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return
	}

	hidden := t.host.Hidden()
	telemetry.SetBool(telemetry.PageHidden, hidden)
	event := telemetry.SessionActive
	if hidden {
		event = telemetry.SessionInactive
	}
	if err := ch.Push(event, telemetry.NewActivityMarker()); err != nil {
		t.log.Debug().Err(err).Str("event", event).Msg("push visibility")
	}
}

// reidentify binds the session to a customer id persisted after the join.
// Ids the session already carries are ignored.
func (t *Tracker) reidentify(gen uint64, sessionID, customerID string) {
	changed := false
	current := t.setIfCurrent(gen, func() {
		changed = t.customerID != customerID
		t.customerID = customerID
	})
	if !current || !changed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reidentifyTimeout)
	defer cancel()
	if err := t.backend.IdentifyBrowserSession(ctx, sessionID, customerID); err != nil {
		t.log.Warn().Err(err).Str("customer_id", customerID).Msg("re-identify session")
	}
}

// Identify resolves the customer again with new metadata. When the
// resolved id is unchanged the stored customer metadata is updated instead.
func (t *Tracker) Identify(ctx context.Context, meta identity.CustomerMetadata) (string, error) {
	t.mu.Lock()
	if t.state != Joined {
		t.mu.Unlock()
		return "", ErrNotJoined
	}
	previous := t.customerID
	t.customer = meta
	t.mu.Unlock()

	customerID, err := t.identity.Resolve(ctx, t.accountID, meta)
	if err != nil {
		return "", fmt.Errorf("resolve customer: %w", err)
	}
	if customerID == previous {
		if err := t.backend.UpdateCustomerMetadata(ctx, customerID, identity.FormatMetadata(nil, meta)); err != nil {
			return customerID, err
		}
	}
	return customerID, nil
}

// Finish ends the session: it sends the finish beacon, stops the recorder,
// drops page listeners, disconnects the socket, leaves the channel and
// resets to Disconnected. Each step is skipped when its resource was never
// created. In-flight requests are not cancelled.
func (t *Tracker) Finish() {
	t.mu.Lock()
	sessionID := t.sessionID
	stop := t.stopRecording
	unsubscribe := t.unsubscribe
	ch := t.channel

	t.gen++
	t.sessionID = ""
	t.customerID = ""
	t.channel = nil
	t.stopRecording = nil
	t.unsubscribe = nil
	t.viewers = nil
	t.initialized = false
	from := t.setState(SignalFinish)
	t.mu.Unlock()

	if sessionID != "" {
		t.log.Debug().Str("session_id", sessionID).Msg("marking session finished")
		t.backend.FinishBrowserSession(sessionID)
	}
	if stop != nil {
		stop()
		t.recordingChanged(false)
	}
	for _, off := range unsubscribe {
		off()
	}
	t.transport.Disconnect()
	if ch != nil {
		if err := ch.Leave(); err != nil {
			t.log.Debug().Err(err).Msg("leave channel")
		}
	}
	t.announce(from, Disconnected)
}

// setState applies sig and returns the previous state. t.mu must be held.
func (t *Tracker) setState(sig Signal) ChannelState {
	from := t.state
	t.state = Transition(from, sig)
	return from
}

// setIfCurrent runs fn under the lock if no Finish happened since gen.
func (t *Tracker) setIfCurrent(gen uint64, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return false
	}
	fn()
	return true
}

func (t *Tracker) announce(from, to ChannelState) {
	if from == to {
		return
	}
	telemetry.RecordTransition(to.String())
	t.log.Debug().Stringer("from", from).Stringer("to", to).Msg("state")
	t.notify(telemetry.StateTransition{Event: telemetry.NewEvent(telemetry.EventState), From: from.String(), To: to.String()})
}
