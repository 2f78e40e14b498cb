// Package phoenix is a client for Phoenix channels over the v2 JSON
// serializer. A Socket multiplexes Channels over one websocket; Presence
// tracks who else is joined to a channel.
package phoenix

import (
	"encoding/json"
	"fmt"
)

// Reserved event names.
const (
	EventJoin      = "phx_join"
	EventReply     = "phx_reply"
	EventLeave     = "phx_leave"
	EventClose     = "phx_close"
	EventError     = "phx_error"
	EventHeartbeat = "heartbeat"

	// Topic used for socket-level messages such as heartbeats.
	socketTopic = "phoenix"
)

// Message is one frame: [join_ref, ref, topic, event, payload]. Empty refs
// are sent as null.
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return json.Marshal([]any{nullable(m.JoinRef), nullable(m.Ref), m.Topic, m.Event, payload})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if len(parts) != 5 {
		return fmt.Errorf("phoenix: frame has %d elements, want 5", len(parts))
	}
	var joinRef, ref *string
	if err := json.Unmarshal(parts[0], &joinRef); err != nil {
		return fmt.Errorf("phoenix: join_ref: %w", err)
	}
	if err := json.Unmarshal(parts[1], &ref); err != nil {
		return fmt.Errorf("phoenix: ref: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(parts[2], &msg.Topic); err != nil {
		return fmt.Errorf("phoenix: topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &msg.Event); err != nil {
		return fmt.Errorf("phoenix: event: %w", err)
	}
	if joinRef != nil {
		msg.JoinRef = *joinRef
	}
	if ref != nil {
		msg.Ref = *ref
	}
	msg.Payload = parts[4]
	*m = msg
	return nil
}

// Reply is the payload of a phx_reply frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// ReplyError is returned to join callbacks when the server answers with a
// non-ok status.
type ReplyError struct {
	Topic    string
	Status   string
	Response json.RawMessage
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("phoenix: %s replied %s: %s", e.Topic, e.Status, string(e.Response))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
