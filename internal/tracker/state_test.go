package tracker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/large-farva/storytime/internal/phoenix"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from ChannelState
		sig  Signal
		want ChannelState
	}{
		{Disconnected, SignalConnect, Connecting},
		{JoinError, SignalConnect, Connecting},
		{Joined, SignalConnect, Joined},
		{Connecting, SignalJoinSent, Joining},
		{Connecting, SignalAbort, Disconnected},
		{Joining, SignalAbort, Joining},
		{Joining, SignalJoinOK, Joined},
		{Joining, SignalJoinError, JoinError},
		{Disconnected, SignalJoinOK, Disconnected},
		{Connecting, SignalJoinOK, Connecting},
		{Joined, SignalJoinError, Joined},
		{Joined, SignalFinish, Disconnected},
		{Joining, SignalFinish, Disconnected},
		{JoinError, SignalFinish, Disconnected},
		{Disconnected, SignalFinish, Disconnected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Transition(tt.from, tt.sig), "%s on %d", tt.from, tt.sig)
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "join_error", JoinError.String())
	assert.Equal(t, "unknown", ChannelState(42).String())
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "events:acct_1:sess_1", ChannelName("acct_1", "sess_1"))
}

func TestShouldEmit(t *testing.T) {
	tests := []struct {
		name      string
		blocklist []string
		path      string
		want      bool
	}{
		{"empty blocklist", nil, "/anything", true},
		{"no match", []string{"/admin"}, "/cart", true},
		{"prefix match", []string{"/admin"}, "/admin/users", false},
		{"substring match", []string{"settings"}, "/account/settings/billing", false},
		{"any entry blocks", []string{"/x", "/cart"}, "/cart", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldEmit(tt.blocklist, tt.path))
		})
	}
}

func TestReducePresence(t *testing.T) {
	entries := []phoenix.Entry{
		{Key: "admin:1", Metas: []map[string]any{
			{"admin": true, "session_id": "viewer_a"},
			{"admin": true, "session_id": "viewer_b"},
		}},
		{Key: "admin:2", Metas: []map[string]any{
			{"admin": true, "session_id": "viewer_a"},
		}},
		{Key: "customer", Metas: []map[string]any{
			{"session_id": "sess_1"},
			{"admin": false, "session_id": "viewer_c"},
			{"admin": 0.0, "session_id": "viewer_d"},
		}},
		{Key: "broken", Metas: []map[string]any{
			nil,
			{"admin": true},
			{"admin": true, "session_id": ""},
			{"admin": "yes", "session_id": "viewer_e"},
		}},
	}

	set := ReducePresence(entries)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []string{"viewer_a", "viewer_b", "viewer_e"}, set.SessionIDs())
	assert.True(t, set["viewer_a"].IsAdmin)

	assert.Zero(t, ReducePresence(nil).Len())
}

func TestTruthyAdminFlag(t *testing.T) {
	tests := []struct {
		flag any
		want bool
	}{
		{true, true},
		{false, false},
		{"yes", true},
		{"", false},
		{1.0, true},
		{0.0, false},
		{json.Number("1"), true},
		{json.Number("0"), false},
		{json.Number("x"), false},
		{int64(2), true},
		{int64(0), false},
		{[]any{true}, false},
		{map[string]any{"on": true}, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truthy(tt.flag), "flag %#v", tt.flag)
	}
}
