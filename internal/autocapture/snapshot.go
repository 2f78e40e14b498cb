package autocapture

import (
	"io"

	"golang.org/x/net/html"

	"github.com/large-farva/storytime/internal/dom"
)

// MaskedAttr marks an element whose subtree was withheld from a snapshot.
const MaskedAttr = "data-st-masked"

// formState lists field attributes that carry what a visitor typed or picked.
var formState = map[string]bool{"value": true, "checked": true, "selected": true}

// Snapshot writes doc as HTML with everything the classifier withholds
// removed. Elements marked sensitive or no-capture keep only their tag and
// class and lose their children. Form fields lose their state, textarea
// and content-editable text is dropped, and any text or attribute value
// that fails ShouldCaptureValue is scrubbed. Comments are skipped.
func Snapshot(w io.Writer, doc *dom.Document) error {
	return html.Render(w, redactNode(dom.Unwrap(doc.Root()), false))
}

func redactNode(n *html.Node, inField bool) *html.Node {
	out := &html.Node{Type: n.Type, DataAtom: n.DataAtom, Data: n.Data, Namespace: n.Namespace}

	switch n.Type {
	case html.TextNode:
		switch {
		case inField || !ShouldCaptureValue(n.Data):
			out.Data = ""
		default:
			out.Data = scrubTokens(n.Data)
		}
		return out

	case html.ElementNode:
		el := dom.Wrap(n)
		if hasClass(el, ClassSensitive) || hasClass(el, ClassNoCapture) {
			if class, ok := el.Attr("class"); ok {
				out.Attr = append(out.Attr, html.Attribute{Key: "class", Val: class})
			}
			out.Attr = append(out.Attr, html.Attribute{Key: MaskedAttr, Val: "true"})
			return out
		}
		field := isTag(el, "input") || isTag(el, "select") || isTag(el, "textarea") || isContentEditable(el)
		for _, a := range n.Attr {
			if a.Namespace == "" && (field && formState[a.Key] || isTag(el, "option") && a.Key == "selected") {
				continue
			}
			if !ShouldCaptureValue(a.Val) {
				continue
			}
			out.Attr = append(out.Attr, a)
		}
		inField = inField || isTag(el, "textarea") || isContentEditable(el)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.CommentNode {
			continue
		}
		out.AppendChild(redactNode(c, inField))
	}
	return out
}
