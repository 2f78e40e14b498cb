package tracker

import (
	"context"
	"encoding/json"

	"github.com/large-farva/storytime/internal/phoenix"
)

// Transport is the realtime socket the tracker owns.
type Transport interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	OnError(fn func(error))
	Channel(topic string, params map[string]any) Channel
	Disconnect()
}

// Channel is one joined topic with presence tracking.
type Channel interface {
	// Join calls exactly one of onOK or onError.
	Join(onOK func(), onError func(error))
	Push(event string, payload any) error
	// OnPresenceSync sets the handler for presence changes. It receives
	// the full presence list each time.
	OnPresenceSync(fn func([]phoenix.Entry))
	Leave() error
}

// PhoenixTransport adapts a phoenix.Socket.
type PhoenixTransport struct {
	socket *phoenix.Socket
}

// NewPhoenixTransport wraps s.
func NewPhoenixTransport(s *phoenix.Socket) *PhoenixTransport {
	return &PhoenixTransport{socket: s}
}

func (t *PhoenixTransport) Connect(ctx context.Context) error { return t.socket.Connect(ctx) }
func (t *PhoenixTransport) IsConnected() bool                 { return t.socket.IsConnected() }
func (t *PhoenixTransport) OnError(fn func(error))            { t.socket.OnError(fn) }
func (t *PhoenixTransport) Disconnect()                       { t.socket.Disconnect() }

// Channel creates the channel and starts tracking its presence right away
// so the state sent after the join reply is not missed.
func (t *PhoenixTransport) Channel(topic string, params map[string]any) Channel {
	ch := t.socket.Channel(topic, params)
	return &phoenixChannel{ch: ch, presence: phoenix.NewPresence(ch)}
}

type phoenixChannel struct {
	ch       *phoenix.Channel
	presence *phoenix.Presence
}

func (c *phoenixChannel) Join(onOK func(), onError func(error)) {
	c.ch.Join(func(json.RawMessage) { onOK() }, onError)
}

func (c *phoenixChannel) Push(event string, payload any) error {
	return c.ch.Push(event, payload)
}

func (c *phoenixChannel) OnPresenceSync(fn func([]phoenix.Entry)) {
	c.presence.OnSync(func() { fn(c.presence.List()) })
}

func (c *phoenixChannel) Leave() error {
	return c.ch.Leave()
}
