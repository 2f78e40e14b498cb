package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/storytime/internal/phoenix"
	"github.com/large-farva/storytime/internal/recorder"
	"github.com/large-farva/storytime/internal/telemetry"
)

// phoenixServer accepts joins and announces one admin viewer.
type phoenixServer struct {
	mu     sync.Mutex
	frames []phoenix.Message
}

func (s *phoenixServer) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		send := func(m phoenix.Message) {
			b, _ := json.Marshal(m)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m phoenix.Message
			if json.Unmarshal(raw, &m) != nil {
				continue
			}
			s.mu.Lock()
			s.frames = append(s.frames, m)
			s.mu.Unlock()

			if m.Event == phoenix.EventJoin {
				send(phoenix.Message{JoinRef: m.JoinRef, Ref: m.Ref, Topic: m.Topic, Event: phoenix.EventReply,
					Payload: json.RawMessage(`{"status":"ok","response":{}}`)})
				send(phoenix.Message{JoinRef: m.JoinRef, Topic: m.Topic, Event: phoenix.EventPresenceState,
					Payload: json.RawMessage(`{"admin:1":{"metas":[{"admin":true,"session_id":"viewer_a","phx_ref":"r1"}]}}`)})
			}
		}
	})
}

func (s *phoenixServer) events(name string) []phoenix.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []phoenix.Message
	for _, m := range s.frames {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func TestPhoenixTransport(t *testing.T) {
	ps := &phoenixServer{}
	srv := httptest.NewServer(ps.handler(t))
	t.Cleanup(srv.Close)

	socket := phoenix.NewSocket("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket", phoenix.WithLogger(zerolog.Nop()))
	h := newHarness(t, func(o *Options) { o.Transport = NewPhoenixTransport(socket) })
	t.Cleanup(h.tracker.Finish)

	require.NoError(t, h.tracker.Connect(context.Background()))

	require.Eventually(t, h.recorder.running, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Joined, h.tracker.State())

	h.recorder.send(recorder.Event{Type: recorder.FullSnapshot, Timestamp: 7, Data: map[string]any{"html": "<html></html>"}})

	require.Eventually(t, func() bool {
		return len(ps.events(telemetry.ReplayEventEmitted)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	joins := ps.events(phoenix.EventJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, "events:acct_1:sess_1", joins[0].Topic)
	assert.JSONEq(t, `{"customerId":"cust_1"}`, string(joins[0].Payload))

	replay := ps.events(telemetry.ReplayEventEmitted)[0]
	assert.JSONEq(t, `{"event":{"type":2,"timestamp":7,"data":{"html":"<html></html>"}},"customer_id":"cust_1"}`, string(replay.Payload))

	require.Eventually(t, func() bool {
		return len(ps.events(telemetry.SessionActive)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
