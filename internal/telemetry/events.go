// Package telemetry defines the payloads the agent sends: outbound channel
// events to the capture backend, and the local events streamed over the
// status websocket to stctl watch.
package telemetry

import "time"

// Channel events pushed to the backend.
const (
	ReplayEventEmitted = "replay:event:emitted"
	SessionActive      = "session:active"
	SessionInactive    = "session:inactive"
)

// ReplayEvent is the payload of replay:event:emitted.
type ReplayEvent struct {
	Event      any    `json:"event"`
	CustomerID string `json:"customer_id"`
}

// ActivityMarker is the payload of session:active and session:inactive. TS
// is milliseconds since the epoch.
type ActivityMarker struct {
	TS int64 `json:"ts"`
}

// NewActivityMarker stamps a marker with the current time.
func NewActivityMarker() ActivityMarker {
	return ActivityMarker{TS: time.Now().UnixMilli()}
}

// EventType identifies a local websocket event.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventLog       EventType = "log"
	EventPresence  EventType = "presence"
	EventRecording EventType = "recording"
	EventCapture   EventType = "capture"
)

// Event is the base envelope shared by every local event.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewEvent returns an envelope of type t stamped now.
func NewEvent(t EventType) Event {
	return Event{Type: t, TS: NowTS()}
}

// Heartbeat is sent periodically so watchers can tell the agent is alive.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the channel state changes.
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// LogLine carries a log message at a severity level.
type LogLine struct {
	Event
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
}

// PresenceChange reports the admin viewers after a presence sync.
type PresenceChange struct {
	Event
	Viewers []string `json:"viewers"`
}

// RecordingChange reports the recorder starting or stopping.
type RecordingChange struct {
	Event
	Recording bool `json:"recording"`
}

// Capture mirrors one replay event pushed to the backend.
type Capture struct {
	Event
	Kind    int    `json:"kind"`
	Path    string `json:"path"`
	Dropped bool   `json:"dropped,omitempty"`
}
