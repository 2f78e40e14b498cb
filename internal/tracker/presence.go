package tracker

import (
	"encoding/json"
	"slices"

	"github.com/large-farva/storytime/internal/phoenix"
)

// Viewer is someone watching the session from the dashboard.
type Viewer struct {
	SessionID string
	IsAdmin   bool
}

// PresenceSet holds the admin viewers of a channel keyed by their session
// id.
type PresenceSet map[string]Viewer

// Len is the number of distinct admin viewers.
func (p PresenceSet) Len() int {
	return len(p)
}

// SessionIDs returns the viewer session ids in sorted order.
func (p PresenceSet) SessionIDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ReducePresence flattens every meta of every entry and keeps those that
// carry a truthy admin flag and a session id.
func ReducePresence(entries []phoenix.Entry) PresenceSet {
	set := make(PresenceSet)
	for _, e := range entries {
		for _, meta := range e.Metas {
			if meta == nil || !truthy(meta["admin"]) {
				continue
			}
			sid, _ := meta["session_id"].(string)
			if sid == "" {
				continue
			}
			set[sid] = Viewer{SessionID: sid, IsAdmin: true}
		}
	}
	return set
}

// truthy accepts a true, non-empty or non-zero admin flag. Values of any
// other type never mark an admin.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return false
	}
}
