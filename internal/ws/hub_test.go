package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

// HubSuite runs each test against a live hub behind an HTTP server.
type HubSuite struct {
	suite.Suite
	hub    *Hub
	url    string
	cancel context.CancelFunc
	srv    *httptest.Server
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.start(DefaultBacklog)
}

func (s *HubSuite) TearDownTest() {
	s.stop()
}

func (s *HubSuite) start(backlog int) {
	s.hub = NewHub(backlog)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.hub.Run(ctx)
	s.srv = httptest.NewServer(s.hub.Handler())
	s.url = "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *HubSuite) stop() {
	s.cancel()
	s.srv.Close()
}

func (s *HubSuite) dial() *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *HubSuite) waitClients(n int) {
	s.Require().Eventually(func() bool { return s.hub.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func (s *HubSuite) readSeq(conn *websocket.Conn) int {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	s.Require().NoError(err)
	var msg struct {
		Seq int `json:"seq"`
	}
	s.Require().NoError(json.Unmarshal(data, &msg))
	return msg.Seq
}

// TestBroadcastReachesWatchers checks live fan-out in order.
func (s *HubSuite) TestBroadcastReachesWatchers() {
	a, b := s.dial(), s.dial()
	s.waitClients(2)

	s.hub.BroadcastJSON(map[string]any{"seq": 1})
	s.hub.BroadcastJSON(map[string]any{"seq": 2})

	for _, conn := range []*websocket.Conn{a, b} {
		s.Equal(1, s.readSeq(conn))
		s.Equal(2, s.readSeq(conn))
	}
}

// TestLateWatcherGetsBacklog checks that only the newest events are replayed.
func (s *HubSuite) TestLateWatcherGetsBacklog() {
	s.stop()
	s.start(2)

	first := s.dial()
	s.waitClients(1)
	for i := 1; i <= 3; i++ {
		s.hub.BroadcastJSON(map[string]any{"seq": i})
	}
	for i := 1; i <= 3; i++ {
		s.Require().Equal(i, s.readSeq(first))
	}

	late := s.dial()
	s.Equal(2, s.readSeq(late))
	s.Equal(3, s.readSeq(late))
	s.waitClients(2)
}

// TestDisconnectedWatcherIsForgotten checks client bookkeeping.
func (s *HubSuite) TestDisconnectedWatcherIsForgotten() {
	conn := s.dial()
	s.waitClients(1)

	s.Require().NoError(conn.Close())
	s.waitClients(0)
}

// TestUnmarshalableIsIgnored checks bad payloads never reach the queue.
func (s *HubSuite) TestUnmarshalableIsIgnored() {
	s.hub.BroadcastJSON(map[string]any{"bad": make(chan int)})
	s.Zero(s.hub.Dropped())
	s.Empty(s.hub.recent())
}

func TestRecentOrdersRing(t *testing.T) {
	h := NewHub(3)
	for _, v := range []string{"a", "b", "c", "d"} {
		h.remember([]byte(v))
	}
	var got []string
	for _, b := range h.recent() {
		got = append(got, string(b))
	}
	if strings.Join(got, "") != "bcd" {
		t.Fatalf("recent = %v, want [b c d]", got)
	}
}
