package ctl

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/autocapture"
	"github.com/large-farva/storytime/internal/dom"
)

// ClassifyOptions configures the classify command.
type ClassifyOptions struct {
	HTML     string // path to an HTML document
	Selector string // CSS selector for the event target(s)
	Event    string // DOM event type
	JSON     bool
}

// ClassifyResult is the capture decision for one matched element.
type ClassifyResult struct {
	Selector   string              `json:"selector"`
	Index      int                 `json:"index"`
	Tag        string              `json:"tag"`
	Event      string              `json:"event"`
	Capturable bool                `json:"capturable"`
	Eligible   bool                `json:"eligible"`
	Captured   bool                `json:"captured"`
	Record     *autocapture.Record `json:"record,omitempty"`
}

// Classify runs the autocapture rules against a local HTML file and shows,
// for every element the selector matches, what a real event would capture.
// It does not talk to the agent.
func Classify(opts ClassifyOptions) error {
	if opts.HTML == "" || opts.Selector == "" {
		return errors.New("classify needs --html and --selector")
	}
	if opts.Event == "" {
		opts.Event = "click"
	}

	results, err := classifyFile(opts)
	if err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(results)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  AUTOCAPTURE"))
	fmt.Fprintln(stdout, rule(50))
	for _, r := range results {
		verdict := colorize(green, "CAPTURED")
		if !r.Captured {
			verdict = colorize(yellow, "SKIPPED ")
		}
		fmt.Fprintf(stdout, "  %s  <%s> #%d on %s\n", verdict, r.Tag, r.Index, r.Event)
		fmt.Fprintf(stdout, "    %-14s %s\n", colorize(dim, "eligible:"), yesNo(r.Eligible))
		fmt.Fprintf(stdout, "    %-14s %s\n", colorize(dim, "capturable:"), yesNo(r.Capturable))
		if r.Record != nil {
			if r.Record.Href != "" {
				fmt.Fprintf(stdout, "    %-14s %s\n", colorize(dim, "href:"), r.Record.Href)
			}
			if len(r.Record.Elements) > 0 {
				fmt.Fprintf(stdout, "    %-14s %q\n", colorize(dim, "text:"), r.Record.Elements[0].Text)
			}
			for _, el := range r.Record.Elements {
				fmt.Fprintf(stdout, "    %-14s %s\n", colorize(dim, "chain:"), describe(el))
			}
		}
	}
	fmt.Fprintln(stdout)
	return nil
}

func classifyFile(opts ClassifyOptions) ([]ClassifyResult, error) {
	f, err := os.Open(opts.HTML)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := dom.Parse(f)
	if err != nil {
		return nil, err
	}
	matches, err := doc.QuerySelectorAll(opts.Selector)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("selector %q matched nothing", opts.Selector)
	}

	agg := autocapture.NewAggregator(doc, nil, zerolog.Nop())
	results := make([]ClassifyResult, 0, len(matches))
	for i, el := range matches {
		r := ClassifyResult{
			Selector:   opts.Selector,
			Index:      i,
			Tag:        el.Tag(),
			Event:      opts.Event,
			Capturable: autocapture.ClassifyElement(el).Capturable,
			Eligible:   autocapture.ShouldCaptureDomEvent(el, opts.Event),
		}
		r.Captured = agg.CaptureEvent(dom.Event{Type: opts.Event, Target: el}, func(rec autocapture.Record) {
			r.Record = &rec
		})
		results = append(results, r)
	}
	return results, nil
}

// describe renders an element descriptor as a short CSS-like string.
func describe(el autocapture.ElementDescriptor) string {
	s := el.TagName
	if el.ID != "" {
		s += "#" + el.ID
	}
	for _, c := range el.Classes {
		s += "." + c
	}
	return fmt.Sprintf("%s:nth-child(%d)", s, el.NthChild)
}
