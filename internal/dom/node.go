// Package dom exposes the small view of a document tree that the capture
// code needs: parent and sibling links, tag names, attributes and text. The
// concrete tree is golang.org/x/net/html; nothing outside this package
// touches html.Node directly.
package dom

// Kind identifies what a Node represents.
type Kind int

const (
	OtherNode Kind = iota
	ElementNode
	TextNode
	CommentNode
	DocumentNode
)

// Attribute is a single name/value pair on an element.
type Attribute struct {
	Name  string
	Value string
}

// Node is the capability set the classifier and aggregator walk. Parent and
// PreviousSibling return nil at the edges of the tree, never a typed nil.
type Node interface {
	Kind() Kind
	// Tag is the lowercase tag name, or "" for anything but an element.
	Tag() string
	Parent() Node
	PreviousSibling() Node
	Children() []Node
	Attr(name string) (string, bool)
	Attributes() []Attribute
	Classes() []string
	// Type is the element's DOM type property, including the implicit
	// defaults browsers report (an untyped button is "submit").
	Type() string
	Name() string
	ID() string
	// Value is the current form value for input, select and textarea.
	Value() string
	TextContent() string
}

// Event is a raw DOM event as delivered to a listener. Target may be nil on
// legacy event objects, in which case SrcElement carries the target.
type Event struct {
	Type       string
	Target     Node
	SrcElement Node
}
