package tracker

import "strings"

// ChannelState is the lifecycle state of the session channel.
type ChannelState int

const (
	Disconnected ChannelState = iota
	Connecting
	Joining
	Joined
	JoinError
)

func (s ChannelState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case JoinError:
		return "join_error"
	default:
		return "unknown"
	}
}

// Signal is an input to the state machine.
type Signal int

const (
	// SignalConnect starts a connect sequence.
	SignalConnect Signal = iota
	// SignalJoinSent marks the join request as sent.
	SignalJoinSent
	// SignalJoinOK is the server accepting the join.
	SignalJoinOK
	// SignalJoinError is the server rejecting the join, or the join timing
	// out.
	SignalJoinError
	// SignalAbort ends a connect sequence that failed before joining.
	SignalAbort
	// SignalFinish tears everything down.
	SignalFinish
)

// Transition returns the state that follows s on sig. Signals that make no
// sense in s leave it unchanged.
func Transition(s ChannelState, sig Signal) ChannelState {
	switch sig {
	case SignalFinish:
		return Disconnected
	case SignalConnect:
		if s == Disconnected || s == JoinError {
			return Connecting
		}
	case SignalAbort:
		if s == Connecting {
			return Disconnected
		}
	case SignalJoinSent:
		if s == Connecting {
			return Joining
		}
	case SignalJoinOK:
		if s == Joining {
			return Joined
		}
	case SignalJoinError:
		if s == Joining {
			return JoinError
		}
	}
	return s
}

// ChannelName is the topic of the channel for a session.
func ChannelName(accountID, sessionID string) string {
	return "events:" + accountID + ":" + sessionID
}

// ShouldEmit reports whether events may be sent from path: no blocklist
// entry may occur anywhere in it.
func ShouldEmit(blocklist []string, path string) bool {
	for _, p := range blocklist {
		if strings.Contains(path, p) {
			return false
		}
	}
	return true
}
