package phoenix

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyJoined is passed to join callbacks when Join is called twice.
var ErrAlreadyJoined = errors.New("phoenix: channel already joined")

type channelState int

const (
	stateClosed channelState = iota
	stateJoining
	stateJoined
	stateErrored
)

type binding struct {
	id int
	fn func(json.RawMessage)
}

// Channel is one topic on a Socket.
type Channel struct {
	socket *Socket
	topic  string
	params map[string]any

	mu       sync.Mutex
	state    channelState
	joinRef  string
	replies  map[string]func(Reply)
	bindings map[string][]binding
	nextID   int
	buffer   []Message
}

func newChannel(s *Socket, topic string, params map[string]any) *Channel {
	if params == nil {
		params = map[string]any{}
	}
	return &Channel{
		socket:   s,
		topic:    topic,
		params:   params,
		replies:  make(map[string]func(Reply)),
		bindings: make(map[string][]binding),
	}
}

// Topic returns the channel's topic.
func (c *Channel) Topic() string {
	return c.topic
}

// JoinRef returns the ref of the current join, or "" before Join.
func (c *Channel) JoinRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinRef
}

// Joined reports whether the server accepted the join.
func (c *Channel) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateJoined
}

// Join sends phx_join with the channel params. Exactly one of onOK or
// onError is called: with the server's response on an ok reply, or with a
// *ReplyError, ErrJoinTimeout or a transport error otherwise.
func (c *Channel) Join(onOK func(response json.RawMessage), onError func(error)) {
	c.mu.Lock()
	if c.state == stateJoining || c.state == stateJoined {
		c.mu.Unlock()
		onError(ErrAlreadyJoined)
		return
	}
	ref := c.socket.makeRef()
	c.joinRef = ref
	c.state = stateJoining

	var once sync.Once
	finish := func(fn func()) { once.Do(fn) }

	c.replies[ref] = func(r Reply) {
		if r.Status == "ok" {
			c.mu.Lock()
			c.state = stateJoined
			pending := c.buffer
			c.buffer = nil
			c.mu.Unlock()
			for _, m := range pending {
				m.JoinRef = ref
				_ = c.socket.push(m)
			}
			finish(func() { onOK(r.Response) })
			return
		}
		c.mu.Lock()
		c.state = stateErrored
		c.mu.Unlock()
		finish(func() { onError(&ReplyError{Topic: c.topic, Status: r.Status, Response: r.Response}) })
	}
	c.mu.Unlock()

	payload, err := json.Marshal(c.params)
	if err == nil {
		err = c.socket.push(Message{JoinRef: ref, Ref: ref, Topic: c.topic, Event: EventJoin, Payload: payload})
	}
	if err != nil {
		c.mu.Lock()
		delete(c.replies, ref)
		c.state = stateErrored
		c.mu.Unlock()
		finish(func() { onError(err) })
		return
	}

	time.AfterFunc(c.socket.joinTimeout, func() {
		c.mu.Lock()
		_, waiting := c.replies[ref]
		if waiting {
			delete(c.replies, ref)
			c.state = stateErrored
		}
		c.mu.Unlock()
		if waiting {
			finish(func() { onError(ErrJoinTimeout) })
		}
	})
}

// Push sends event with payload. Pushes made while the join is in flight
// are buffered and sent once it succeeds.
func (c *Channel) Push(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := Message{Ref: c.socket.makeRef(), Topic: c.topic, Event: event, Payload: b}

	c.mu.Lock()
	switch c.state {
	case stateJoining:
		c.buffer = append(c.buffer, msg)
		c.mu.Unlock()
		return nil
	case stateJoined:
		msg.JoinRef = c.joinRef
		c.mu.Unlock()
		return c.socket.push(msg)
	default:
		c.mu.Unlock()
		return errors.New("phoenix: push to " + c.topic + " before join")
	}
}

// On registers fn for inbound event. The returned function removes it.
func (c *Channel) On(event string, fn func(payload json.RawMessage)) (off func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.bindings[event] = append(c.bindings[event], binding{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		bs := c.bindings[event]
		for i, b := range bs {
			if b.id == id {
				c.bindings[event] = append(bs[:i:i], bs[i+1:]...)
				return
			}
		}
	}
}

// Leave sends phx_leave and detaches the channel from its socket. Leaving a
// channel whose socket is already closed only detaches it.
func (c *Channel) Leave() error {
	c.mu.Lock()
	state, joinRef := c.state, c.joinRef
	c.state = stateClosed
	c.buffer = nil
	c.replies = make(map[string]func(Reply))
	c.mu.Unlock()

	defer c.socket.remove(c)
	if state == stateClosed || !c.socket.IsConnected() {
		return nil
	}
	return c.socket.push(Message{JoinRef: joinRef, Ref: c.socket.makeRef(), Topic: c.topic, Event: EventLeave})
}

func (c *Channel) trigger(msg Message) {
	c.mu.Lock()
	if msg.JoinRef != "" && c.joinRef != "" && msg.JoinRef != c.joinRef {
		// Stale frame from an earlier join.
		c.mu.Unlock()
		return
	}

	var reply func(Reply)
	if msg.Event == EventReply {
		reply = c.replies[msg.Ref]
		delete(c.replies, msg.Ref)
	}
	switch msg.Event {
	case EventClose:
		c.state = stateClosed
	case EventError:
		if c.state == stateJoined || c.state == stateJoining {
			c.state = stateErrored
		}
	}
	handlers := make([]func(json.RawMessage), 0, len(c.bindings[msg.Event]))
	for _, b := range c.bindings[msg.Event] {
		handlers = append(handlers, b.fn)
	}
	c.mu.Unlock()

	if reply != nil {
		var r Reply
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			r = Reply{Status: "error", Response: msg.Payload}
		}
		reply(r)
	}
	for _, fn := range handlers {
		fn(msg.Payload)
	}
}

func (c *Channel) socketFailed() {
	c.trigger(Message{Topic: c.topic, Event: EventError, Payload: json.RawMessage(`{}`)})
}
