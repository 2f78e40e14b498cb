package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ErrNoMatch is returned by QuerySelector when nothing matches.
var ErrNoMatch = errors.New("dom: no element matches selector")

// Document is a parsed HTML document.
type Document struct {
	root *html.Node
}

// Parse reads an HTML document from r.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString parses an HTML document held in a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() Node {
	return Wrap(d.root)
}

// Body returns the <body> element. The HTML parser always synthesizes one.
func (d *Document) Body() Node {
	if n := findElement(d.root, "body"); n != nil {
		return Wrap(n)
	}
	return nil
}

// Title returns the trimmed text of the first <title> element.
func (d *Document) Title() string {
	if n := findElement(d.root, "title"); n != nil {
		return strings.TrimSpace(Wrap(n).TextContent())
	}
	return ""
}

// QuerySelectorAll returns every element matching the CSS selector group,
// in document order.
func (d *Document) QuerySelectorAll(selector string) ([]Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	matches := sel.MatchAll(d.root)
	out := make([]Node, 0, len(matches))
	for _, m := range matches {
		out = append(out, Wrap(m))
	}
	return out, nil
}

// QuerySelector returns the first element matching selector.
func (d *Document) QuerySelector(selector string) (Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	m := sel.MatchFirst(d.root)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, selector)
	}
	return Wrap(m), nil
}

// Render writes the document back out as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// SetAttribute sets name=value on an element produced by this package. It
// reports false for anything else.
func SetAttribute(n Node, name, value string) bool {
	hn := Unwrap(n)
	if hn == nil || hn.Type != html.ElementNode {
		return false
	}
	for i, a := range hn.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			hn.Attr[i].Val = value
			return true
		}
	}
	hn.Attr = append(hn.Attr, html.Attribute{Key: strings.ToLower(name), Val: value})
	return true
}

// SetText replaces every child of an element with a single text node.
func SetText(n Node, text string) bool {
	hn := Unwrap(n)
	if hn == nil || hn.Type != html.ElementNode {
		return false
	}
	for c := hn.FirstChild; c != nil; {
		next := c.NextSibling
		hn.RemoveChild(c)
		c = next
	}
	hn.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return true
}
