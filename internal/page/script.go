package page

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/large-farva/storytime/internal/dom"
)

// Step is one line of an interaction script. Scripts are JSON lines:
//
//	{"kind":"event","type":"click","selector":"#buy"}
//	{"kind":"event","type":"change","selector":"#qty","value":"3"}
//	{"kind":"visibility","hidden":true}
//	{"kind":"navigate","url":"/checkout"}
//	{"kind":"mutation","selector":"#cart-count","text":"2"}
//	{"kind":"mutation","selector":"#banner","attribute":"class","value":"hidden"}
//	{"kind":"wait","ms":250}
//	{"kind":"unload"}
type Step struct {
	Kind      string `json:"kind"`
	Type      string `json:"type,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Value     string `json:"value,omitempty"`
	Text      string `json:"text,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
	URL       string `json:"url,omitempty"`
	MS        int    `json:"ms,omitempty"`
}

// ParseScript reads JSON-lines steps. Blank lines and lines starting with
// # are skipped.
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var s Step
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("script line %d: %w", line, err)
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("script line %d: %w", line, err)
		}
		steps = append(steps, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func (s Step) validate() error {
	switch s.Kind {
	case "event":
		if s.Type == "" || s.Selector == "" {
			return fmt.Errorf("event step needs type and selector")
		}
	case "mutation":
		if s.Selector == "" {
			return fmt.Errorf("mutation step needs a selector")
		}
	case "navigate":
		if s.URL == "" {
			return fmt.Errorf("navigate step needs a url")
		}
	case "visibility", "wait", "unload":
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

// Run plays steps against the page in order. It stops at the first failing
// step or when ctx is done.
func (p *Page) Run(ctx context.Context, steps []Step) error {
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.apply(ctx, s); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s.Kind, err)
		}
	}
	return nil
}

func (p *Page) apply(ctx context.Context, s Step) error {
	switch s.Kind {
	case "event":
		target, err := p.query(s.Selector)
		if err != nil {
			return err
		}
		if s.Value != "" {
			p.write(func() {
				if target.Tag() == "textarea" {
					dom.SetText(target, s.Value)
				} else {
					dom.SetAttribute(target, "value", s.Value)
				}
			})
		}
		p.Dispatch(dom.Event{Type: s.Type, Target: target})

	case "mutation":
		target, err := p.query(s.Selector)
		if err != nil {
			return err
		}
		m := Mutation{Kind: MutationText, Target: target, Value: s.Text}
		if s.Attribute != "" {
			m = Mutation{Kind: MutationAttributes, Target: target, Attribute: s.Attribute, Value: s.Value}
		}
		return p.Mutate(m)

	case "visibility":
		p.SetHidden(s.Hidden)

	case "navigate":
		return p.Navigate(s.URL)

	case "wait":
		t := time.NewTimer(time.Duration(s.MS) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

	case "unload":
		p.Unload()
	}
	return nil
}

func (p *Page) query(selector string) (target dom.Node, err error) {
	p.Read(func(doc *dom.Document) { target, err = doc.QuerySelector(selector) })
	return target, err
}
