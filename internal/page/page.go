// Package page hosts a document the way a browser tab would: it knows its
// URL and visibility, and it delivers DOM events, mutations and unload to
// whoever listens. Drivers (a script or the demo loop) make things happen
// on it.
package page

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/large-farva/storytime/internal/dom"
)

// Lib identifies this agent in page info sent to the backend.
const Lib = "storytime-go"

// Mutation kinds.
const (
	MutationAttributes = "attributes"
	MutationText       = "characterData"
)

// Mutation is a change applied to the document.
type Mutation struct {
	Kind      string
	Target    dom.Node
	Attribute string
	Value     string
}

// Page is a single loaded document. The document tree is guarded by its
// own lock: drivers write it while the recorder and HTTP handlers read it
// from other goroutines.
type Page struct {
	doc     *dom.Document
	version string
	tree    sync.RWMutex

	mu         sync.Mutex
	url        *url.URL
	hidden     bool
	unloaded   bool
	pageViewID string

	visibility listeners[bool]
	unload     listeners[struct{}]
	events     listeners[dom.Event]
	mutations  listeners[Mutation]
}

// New loads doc at rawURL. version is reported as lib_version in Info.
func New(doc *dom.Document, rawURL, version string) (*Page, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Page{
		doc:        doc,
		version:    version,
		url:        u,
		pageViewID: uuid.NewString(),
	}, nil
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("page url: %w", err)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Document returns the loaded document without locking. Code that can run
// alongside a driver goes through Read instead.
func (p *Page) Document() *dom.Document {
	return p.doc
}

// Read runs fn with the document locked against mutation.
func (p *Page) Read(fn func(doc *dom.Document)) {
	p.tree.RLock()
	defer p.tree.RUnlock()
	fn(p.doc)
}

func (p *Page) write(fn func()) {
	p.tree.Lock()
	defer p.tree.Unlock()
	fn()
}

// URL returns the current location.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.String()
}

// Path returns the current location's path.
func (p *Page) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.Path
}

// Hidden reports whether the page is in the background.
func (p *Page) Hidden() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hidden
}

// SetHidden changes visibility. Listeners only hear about real changes.
func (p *Page) SetHidden(hidden bool) {
	p.mu.Lock()
	changed := p.hidden != hidden && !p.unloaded
	p.hidden = hidden
	p.mu.Unlock()
	if changed {
		p.visibility.emit(hidden)
	}
}

// Navigate moves to another URL within the same document, as a
// single-page app would.
func (p *Page) Navigate(rawURL string) error {
	u, err := p.resolve(rawURL)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.url = u
	p.pageViewID = uuid.NewString()
	p.mu.Unlock()
	return nil
}

func (p *Page) resolve(rawURL string) (*url.URL, error) {
	ref, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.ResolveReference(ref), nil
}

// Dispatch delivers a DOM event to the page's listeners. Listeners run
// with the document read-locked and must not mutate it.
func (p *Page) Dispatch(ev dom.Event) {
	if p.isUnloaded() {
		return
	}
	p.tree.RLock()
	defer p.tree.RUnlock()
	p.events.emit(ev)
}

// Mutate applies m to the document and reports it to mutation listeners.
func (p *Page) Mutate(m Mutation) error {
	if p.isUnloaded() {
		return nil
	}
	var set func() bool
	switch m.Kind {
	case MutationAttributes:
		set = func() bool { return dom.SetAttribute(m.Target, m.Attribute, m.Value) }
	case MutationText:
		set = func() bool { return dom.SetText(m.Target, m.Value) }
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	var ok bool
	p.write(func() { ok = set() })
	if !ok {
		return fmt.Errorf("%s mutation: target is not an element", m.Kind)
	}
	p.Read(func(*dom.Document) { p.mutations.emit(m) })
	return nil
}

// Unload fires the unload listeners once. The page ignores everything
// afterwards.
func (p *Page) Unload() {
	p.mu.Lock()
	already := p.unloaded
	p.unloaded = true
	p.mu.Unlock()
	if !already {
		p.unload.emit(struct{}{})
	}
}

func (p *Page) isUnloaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unloaded
}

// OnVisibilityChange registers fn for visibility changes.
func (p *Page) OnVisibilityChange(fn func(hidden bool)) (remove func()) {
	return p.visibility.add(fn)
}

// OnUnload registers fn to run when the page unloads.
func (p *Page) OnUnload(fn func()) (remove func()) {
	return p.unload.add(func(struct{}) { fn() })
}

// OnDomEvent registers fn for every dispatched DOM event.
func (p *Page) OnDomEvent(fn func(dom.Event)) (remove func()) {
	return p.events.add(fn)
}

// OnMutation registers fn for document mutations.
func (p *Page) OnMutation(fn func(Mutation)) (remove func()) {
	return p.mutations.add(fn)
}

// Info describes the page for customer and session metadata.
func (p *Page) Info() map[string]any {
	var title string
	p.Read(func(doc *dom.Document) { title = doc.Title() })

	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"current_url":  p.url.String(),
		"host":         p.url.Host,
		"pathname":     p.url.Path,
		"title":        title,
		"page_view_id": p.pageViewID,
		"lib":          Lib,
		"lib_version":  p.version,
	}
}
