package phoenix

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"
)

// Presence event names.
const (
	EventPresenceState = "presence_state"
	EventPresenceDiff  = "presence_diff"
)

// Entry is one presence key with every meta currently tracked under it.
type Entry struct {
	Key   string
	Metas []map[string]any
}

type presenceEntry struct {
	Metas []map[string]any `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceEntry `json:"joins"`
	Leaves map[string]presenceEntry `json:"leaves"`
}

// Presence mirrors the presence list of a channel. Diffs that arrive before
// the first full state of a join are held back and applied after it.
type Presence struct {
	ch *Channel

	mu      sync.Mutex
	state   map[string][]map[string]any
	joinRef string
	pending []presenceDiff
	onSync  func()
}

// NewPresence starts tracking presence on ch. Create it before joining so
// the initial state is not missed.
func NewPresence(ch *Channel) *Presence {
	p := &Presence{ch: ch, state: make(map[string][]map[string]any)}
	ch.On(EventPresenceState, p.handleState)
	ch.On(EventPresenceDiff, p.handleDiff)
	return p
}

// OnSync sets the callback run after every state or diff is applied.
func (p *Presence) OnSync(fn func()) {
	p.mu.Lock()
	p.onSync = fn
	p.mu.Unlock()
}

// List returns the current entries ordered by key.
func (p *Presence) List() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, 0, len(p.state))
	for k, metas := range p.state {
		out = append(out, Entry{Key: k, Metas: slices.Clone(metas)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (p *Presence) handleState(payload json.RawMessage) {
	var state map[string]presenceEntry
	if err := json.Unmarshal(payload, &state); err != nil {
		return
	}

	p.mu.Lock()
	p.joinRef = p.ch.JoinRef()
	p.state = make(map[string][]map[string]any, len(state))
	for k, e := range state {
		if len(e.Metas) > 0 {
			p.state[k] = e.Metas
		}
	}
	pending := p.pending
	p.pending = nil
	for _, d := range pending {
		p.applyDiff(d)
	}
	fn := p.onSync
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (p *Presence) handleDiff(payload json.RawMessage) {
	var diff presenceDiff
	if err := json.Unmarshal(payload, &diff); err != nil {
		return
	}

	p.mu.Lock()
	if p.joinRef == "" || p.joinRef != p.ch.JoinRef() {
		p.pending = append(p.pending, diff)
		p.mu.Unlock()
		return
	}
	p.applyDiff(diff)
	fn := p.onSync
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// applyDiff must be called with p.mu held.
func (p *Presence) applyDiff(d presenceDiff) {
	for k, e := range d.Joins {
		current := p.state[k]
		for _, m := range e.Metas {
			if ref := phxRef(m); ref == "" || !slices.ContainsFunc(current, func(c map[string]any) bool { return phxRef(c) == ref }) {
				current = append(current, m)
			}
		}
		p.state[k] = current
	}
	for k, e := range d.Leaves {
		current, ok := p.state[k]
		if !ok {
			continue
		}
		refs := make(map[string]bool, len(e.Metas))
		for _, m := range e.Metas {
			refs[phxRef(m)] = true
		}
		current = slices.DeleteFunc(current, func(m map[string]any) bool { return refs[phxRef(m)] })
		if len(current) == 0 {
			delete(p.state, k)
		} else {
			p.state[k] = current
		}
	}
}

func phxRef(meta map[string]any) string {
	ref, _ := meta["phx_ref"].(string)
	return ref
}
