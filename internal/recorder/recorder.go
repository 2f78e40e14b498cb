// Package recorder turns page activity into a stream of timestamped replay
// events. A recording starts with a meta event and a full snapshot of the
// document, then follows with incremental mutations and autocaptured
// interactions until it is stopped.
package recorder

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/autocapture"
	"github.com/large-farva/storytime/internal/dom"
	"github.com/large-farva/storytime/internal/page"
)

// EventType numbers follow the replay player's wire format.
type EventType int

const (
	DomContentLoaded EventType = iota
	Load
	FullSnapshot
	IncrementalSnapshot
	Meta
	Custom
)

func (t EventType) String() string {
	switch t {
	case DomContentLoaded:
		return "dom-loaded"
	case Load:
		return "load"
	case FullSnapshot:
		return "full-snapshot"
	case IncrementalSnapshot:
		return "incremental"
	case Meta:
		return "meta"
	case Custom:
		return "custom"
	default:
		return "type-" + strconv.Itoa(int(t))
	}
}

// AutocaptureTag marks custom events carrying an autocapture record.
const AutocaptureTag = "$autocapture"

// Event is one opaque replay payload.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Data      any       `json:"data"`
}

// Recorder is started with an emit callback and returns its stop function.
// Stop is idempotent.
type Recorder interface {
	Start(emit func(Event)) (stop func())
}

// PageRecorder records a page.Page.
type PageRecorder struct {
	page *page.Page
	agg  *autocapture.Aggregator
	log  zerolog.Logger
	now  func() time.Time
}

// NewPageRecorder returns a recorder for p that runs DOM events through agg.
func NewPageRecorder(p *page.Page, agg *autocapture.Aggregator, logger zerolog.Logger) *PageRecorder {
	return &PageRecorder{
		page: p,
		agg:  agg,
		log:  logger.With().Str("component", "recorder").Logger(),
		now:  time.Now,
	}
}

// Start emits the meta and full snapshot events, then listens to the page
// until stop is called.
func (r *PageRecorder) Start(emit func(Event)) (stop func()) {
	var (
		mu      sync.Mutex
		stopped bool
	)
	send := func(t EventType, data any) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		emit(Event{Type: t, Timestamp: r.now().UnixMilli(), Data: data})
	}

	send(Meta, map[string]any{"href": r.page.URL()})
	send(FullSnapshot, r.snapshot())

	offEvents := r.page.OnDomEvent(func(ev dom.Event) {
		r.agg.CaptureEvent(ev, func(rec autocapture.Record) {
			send(Custom, map[string]any{"tag": AutocaptureTag, "payload": rec})
		})
	})
	offMutations := r.page.OnMutation(func(m page.Mutation) {
		send(IncrementalSnapshot, mutationData(m))
	})
	r.log.Debug().Msg("recording started")

	var once sync.Once
	return func() {
		once.Do(func() {
			offEvents()
			offMutations()
			mu.Lock()
			stopped = true
			mu.Unlock()
			r.log.Debug().Msg("recording stopped")
		})
	}
}

// snapshot renders the page with sensitive content stripped.
func (r *PageRecorder) snapshot() map[string]any {
	var (
		b   strings.Builder
		err error
	)
	r.page.Read(func(doc *dom.Document) { err = autocapture.Snapshot(&b, doc) })
	if err != nil {
		r.log.Warn().Err(err).Msg("render snapshot")
	}
	return map[string]any{
		"id":   uuid.NewString(),
		"html": b.String(),
	}
}

// mutationData describes m without leaking what the classifier would
// withhold: the value is dropped when the target is not capturable or the
// value itself looks sensitive.
func mutationData(m page.Mutation) map[string]any {
	data := map[string]any{
		"source": m.Kind,
		"target": autocapture.DescribeElement(m.Target),
	}
	if m.Attribute != "" {
		data["attribute"] = m.Attribute
	}
	if autocapture.ShouldCaptureElement(m.Target) && autocapture.ShouldCaptureValue(m.Value) {
		data["value"] = m.Value
	}
	return data
}
