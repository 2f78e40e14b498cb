package phoenix

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected is returned when writing to a socket that is not open.
	ErrNotConnected = errors.New("phoenix: socket not connected")
	// ErrJoinTimeout is passed to join callbacks when the server never
	// replies to phx_join.
	ErrJoinTimeout = errors.New("phoenix: join timed out")
	// ErrHeartbeatTimeout is reported when a heartbeat goes unanswered for a
	// full interval.
	ErrHeartbeatTimeout = errors.New("phoenix: heartbeat timed out")
)

const (
	defaultHeartbeat   = 30 * time.Second
	defaultJoinTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second
)

// Option customizes a Socket.
type Option func(*Socket)

// WithLogger sets the socket's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Socket) { s.log = l }
}

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Socket) { s.heartbeat = d }
}

// WithJoinTimeout overrides how long channels wait for a join reply.
func WithJoinTimeout(d time.Duration) Option {
	return func(s *Socket) { s.joinTimeout = d }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Socket) { s.dialer = d }
}

// Socket is a single websocket connection carrying any number of channels.
// Handlers registered on the socket and its channels run on the socket's
// read goroutine.
type Socket struct {
	endpoint    string
	dialer      *websocket.Dialer
	heartbeat   time.Duration
	joinTimeout time.Duration
	log         zerolog.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	conn          *websocket.Conn
	done          chan struct{}
	ref           uint64
	pendingBeat   string
	channels      []*Channel
	errorHandlers []func(error)
}

// NewSocket returns an unconnected socket for endpoint, the ws(s) URL of the
// server's socket mount (for example wss://host/socket).
func NewSocket(endpoint string, opts ...Option) *Socket {
	s := &Socket{
		endpoint:    endpoint,
		dialer:      websocket.DefaultDialer,
		heartbeat:   defaultHeartbeat,
		joinTimeout: defaultJoinTimeout,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EndpointURL returns the URL the socket dials: the mount point plus the
// websocket transport path and the serializer version.
func (s *Socket) EndpointURL() (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	q := u.Query()
	q.Set("vsn", "2.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the server. It is a no-op when already connected.
func (s *Socket) Connect(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}
	endpoint, err := s.EndpointURL()
	if err != nil {
		return err
	}
	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.done = make(chan struct{})
	s.pendingBeat = ""
	done := s.done
	s.mu.Unlock()

	s.log.Debug().Str("endpoint", endpoint).Msg("socket connected")
	go s.readLoop(conn, done)
	go s.heartbeatLoop(conn, done)
	return nil
}

// IsConnected reports whether the websocket is open.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// OnError registers a handler for transport errors: failed reads and missed
// heartbeats. The socket does not reconnect on its own.
func (s *Socket) OnError(fn func(error)) {
	s.mu.Lock()
	s.errorHandlers = append(s.errorHandlers, fn)
	s.mu.Unlock()
}

// Channel returns a new channel for topic. params are sent with phx_join.
func (s *Socket) Channel(topic string, params map[string]any) *Channel {
	ch := newChannel(s, topic, params)
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
	return ch
}

// Disconnect closes the websocket. Channels are left in place and will fail
// further pushes with ErrNotConnected.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	close(done)

	s.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	_ = conn.Close()
	s.log.Debug().Msg("socket disconnected")
}

func (s *Socket) makeRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref++
	return strconv.FormatUint(s.ref, 10)
}

func (s *Socket) push(msg Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Socket) remove(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.channels {
		if c == ch {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			return
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Closed by Disconnect.
			default:
				s.fail(conn, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		if msg.Topic == socketTopic && msg.Event == EventReply {
			s.mu.Lock()
			if msg.Ref == s.pendingBeat {
				s.pendingBeat = ""
			}
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		targets := make([]*Channel, 0, 1)
		for _, ch := range s.channels {
			if ch.topic == msg.Topic {
				targets = append(targets, ch)
			}
		}
		s.mu.Unlock()

		for _, ch := range targets {
			ch.trigger(msg)
		}
	}
}

func (s *Socket) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		missed := s.pendingBeat != ""
		s.mu.Unlock()
		if missed {
			s.fail(conn, ErrHeartbeatTimeout)
			return
		}

		ref := s.makeRef()
		s.mu.Lock()
		s.pendingBeat = ref
		s.mu.Unlock()
		if err := s.push(Message{Ref: ref, Topic: socketTopic, Event: EventHeartbeat}); err != nil {
			s.fail(conn, err)
			return
		}
	}
}

// fail tears down conn after a transport error and tells the error
// handlers and joined channels. It does nothing if conn was already
// replaced or closed.
func (s *Socket) fail(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.conn, s.done = nil, nil
	handlers := append([]func(error){}, s.errorHandlers...)
	channels := append([]*Channel{}, s.channels...)
	s.mu.Unlock()

	_ = conn.Close()
	s.log.Debug().Err(err).Msg("socket failed")

	for _, ch := range channels {
		ch.socketFailed()
	}
	for _, fn := range handlers {
		fn(err)
	}
}
