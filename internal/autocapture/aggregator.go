package autocapture

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/dom"
)

// SchemaVersion is sent as $ce_version on every record.
const SchemaVersion = 1

// CustomProperty extracts a named value from the page whenever an event
// lands on (or inside) an element matching one of EventSelectors.
type CustomProperty struct {
	Name           string   `toml:"name"            json:"name"`
	CSSSelector    string   `toml:"css_selector"    json:"css_selector"`
	EventSelectors []string `toml:"event_selectors" json:"event_selectors"`
}

// Querier evaluates CSS selectors against the whole document.
type Querier interface {
	QuerySelectorAll(selector string) ([]dom.Node, error)
}

// Record is one captured interaction.
type Record struct {
	EventType        string
	Elements         []ElementDescriptor
	Href             string
	CustomProperties map[string]string
}

// MarshalJSON flattens the default properties, the element list and the
// custom properties into a single object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.CustomProperties)+4)
	for k, v := range r.CustomProperties {
		out[k] = v
	}
	out["$event_type"] = r.EventType
	out["$ce_version"] = SchemaVersion
	out["$elements"] = r.Elements
	if r.Href != "" {
		out["$href"] = r.Href
	}
	return json.Marshal(out)
}

// Aggregator turns raw DOM events into Records. It never transmits
// anything itself; callers receive records through a callback.
type Aggregator struct {
	doc   Querier
	props []CustomProperty
	log   zerolog.Logger
}

// NewAggregator returns an aggregator that resolves custom properties
// against doc.
func NewAggregator(doc Querier, props []CustomProperty, logger zerolog.Logger) *Aggregator {
	return &Aggregator{doc: doc, props: props, log: logger}
}

// CaptureEvent classifies ev and, if it qualifies, hands the resulting
// record to onCapture. It reports whether a record was emitted.
func (a *Aggregator) CaptureEvent(ev dom.Event, onCapture func(Record)) bool {
	target := ev.Target
	if target == nil {
		target = ev.SrcElement
	}
	if target != nil && target.Kind() == dom.TextNode {
		target = target.Parent()
	}

	if !ShouldCaptureDomEvent(target, ev.Type) {
		return false
	}

	chain := ancestorChain(target)

	elements := make([]ElementDescriptor, 0, len(chain))
	var href string
	explicitNoCapture := false
	for _, el := range chain {
		if isTag(el, "a") {
			href = ""
			if v, ok := el.Attr("href"); ok && ShouldCaptureElement(el) && ShouldCaptureValue(v) {
				href = v
			}
		}
		if hasClass(el, ClassNoCapture) {
			explicitNoCapture = true
		}
		elements = append(elements, DescribeElement(el))
	}

	// Only the target's own text is kept so that text from a sensitive
	// sibling never rides along on an ancestor.
	elements[0].Text = SafeText(target)

	if explicitNoCapture {
		return false
	}

	onCapture(Record{
		EventType:        ev.Type,
		Elements:         elements,
		Href:             href,
		CustomProperties: a.customProperties(chain),
	})
	return true
}

// ancestorChain lists target and its ancestors, stopping below <body>.
func ancestorChain(target dom.Node) []dom.Node {
	chain := []dom.Node{target}
	for cur := target; cur.Parent() != nil && !isTag(cur.Parent(), "body"); cur = cur.Parent() {
		if cur.Parent().Kind() != dom.ElementNode {
			break
		}
		chain = append(chain, cur.Parent())
	}
	return chain
}

func (a *Aggregator) customProperties(chain []dom.Node) map[string]string {
	props := make(map[string]string)
	for _, cp := range a.props {
		for _, selector := range cp.EventSelectors {
			matches, err := a.doc.QuerySelectorAll(selector)
			if err != nil {
				a.log.Warn().Err(err).Str("property", cp.Name).Msg("invalid event selector")
				continue
			}
			for _, m := range matches {
				if slices.Contains(chain, m) && ShouldCaptureElement(m) {
					props[cp.Name] = a.extractValue(cp)
				}
			}
		}
	}
	return props
}

func (a *Aggregator) extractValue(cp CustomProperty) string {
	matches, err := a.doc.QuerySelectorAll(cp.CSSSelector)
	if err != nil {
		a.log.Warn().Err(err).Str("property", cp.Name).Msg("invalid property selector")
		return ""
	}
	var values []string
	for _, m := range matches {
		var value any
		switch m.Tag() {
		case "input", "select":
			value = m.Value()
		default:
			if text := m.TextContent(); text != "" {
				value = text
			}
		}
		if ShouldCaptureValue(value) {
			values = append(values, value.(string))
		}
	}
	return strings.Join(values, ", ")
}
