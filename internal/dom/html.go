package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// htmlNode adapts an *html.Node. It is a comparable value, so two wrappers
// of the same underlying node compare equal with ==.
type htmlNode struct {
	n *html.Node
}

// Wrap returns the Node view of n, or nil when n is nil.
func Wrap(n *html.Node) Node {
	if n == nil {
		return nil
	}
	return htmlNode{n: n}
}

// Unwrap returns the underlying *html.Node of a Node produced by this
// package, or nil for foreign implementations.
func Unwrap(n Node) *html.Node {
	if hn, ok := n.(htmlNode); ok {
		return hn.n
	}
	return nil
}

func (h htmlNode) Kind() Kind {
	switch h.n.Type {
	case html.ElementNode:
		return ElementNode
	case html.TextNode:
		return TextNode
	case html.CommentNode:
		return CommentNode
	case html.DocumentNode:
		return DocumentNode
	default:
		return OtherNode
	}
}

func (h htmlNode) Tag() string {
	if h.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(h.n.Data)
}

func (h htmlNode) Parent() Node          { return Wrap(h.n.Parent) }
func (h htmlNode) PreviousSibling() Node { return Wrap(h.n.PrevSibling) }

func (h htmlNode) Children() []Node {
	var out []Node
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, htmlNode{n: c})
	}
	return out
}

func (h htmlNode) Attr(name string) (string, bool) {
	for _, a := range h.n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func (h htmlNode) Attributes() []Attribute {
	out := make([]Attribute, 0, len(h.n.Attr))
	for _, a := range h.n.Attr {
		out = append(out, Attribute{Name: a.Key, Value: a.Val})
	}
	return out
}

func (h htmlNode) Classes() []string {
	v, _ := h.Attr("class")
	return strings.Fields(v)
}

func (h htmlNode) Type() string {
	if v, ok := h.Attr("type"); ok && v != "" {
		return strings.ToLower(v)
	}
	switch h.Tag() {
	case "input":
		return "text"
	case "button":
		return "submit"
	case "textarea":
		return "textarea"
	case "select":
		if _, multi := h.Attr("multiple"); multi {
			return "select-multiple"
		}
		return "select-one"
	}
	return ""
}

func (h htmlNode) Name() string {
	v, _ := h.Attr("name")
	return v
}

func (h htmlNode) ID() string {
	v, _ := h.Attr("id")
	return v
}

func (h htmlNode) Value() string {
	switch h.Tag() {
	case "textarea":
		return h.TextContent()
	case "select":
		var first Node
		for _, opt := range descendants(h, "option") {
			if first == nil {
				first = opt
			}
			if _, ok := opt.Attr("selected"); ok {
				return optionValue(opt)
			}
		}
		if first != nil {
			return optionValue(first)
		}
		return ""
	}
	v, _ := h.Attr("value")
	return v
}

func (h htmlNode) TextContent() string {
	if h.n.Type == html.TextNode {
		return h.n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
			case html.ElementNode:
				walk(c)
			}
		}
	}
	walk(h.n)
	return b.String()
}

func optionValue(opt Node) string {
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(opt.TextContent())
}

func descendants(n Node, tag string) []Node {
	var out []Node
	for _, c := range n.Children() {
		if c.Tag() == tag {
			out = append(out, c)
		}
		out = append(out, descendants(c, tag)...)
	}
	return out
}
