package autocapture

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/large-farva/storytime/internal/dom"
)

const maxTextLength = 255

var whitespaceRun = regexp.MustCompile(`\s+`)

// ElementDescriptor is the redacted structural description of one element.
type ElementDescriptor struct {
	TagName    string
	Text       string
	ID         string
	Classes    []string
	InputType  string
	Name       string
	Attributes map[string]string
	NthChild   int
	NthOfType  int
}

// MarshalJSON emits the flat wire shape the backend indexes on:
// attributes become attr__<name> keys next to the structural fields.
func (d ElementDescriptor) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"tag_name":    d.TagName,
		"nth_child":   d.NthChild,
		"nth_of_type": d.NthOfType,
	}
	if isUseful(d.TagName) || d.Text != "" {
		out["$el_text"] = d.Text
	}
	if d.ID != "" {
		out["id"] = d.ID
	}
	if len(d.Classes) > 0 {
		out["classes"] = d.Classes
	}
	if d.InputType != "" {
		out["$el_type"] = d.InputType
	}
	if d.Name != "" {
		out["$el_name"] = d.Name
	}
	for k, v := range d.Attributes {
		out["attr__"+k] = v
	}
	return json.Marshal(out)
}

// DescribeElement builds the descriptor for el. Text is only collected for
// useful tags, and attributes only when the element itself is capturable.
func DescribeElement(el dom.Node) ElementDescriptor {
	d := ElementDescriptor{
		TagName:   el.Tag(),
		ID:        el.ID(),
		Classes:   el.Classes(),
		InputType: el.Type(),
		Name:      el.Name(),
	}
	if isUseful(d.TagName) {
		d.Text = SafeText(el)
	}

	if ShouldCaptureElement(el) {
		for _, attr := range el.Attributes() {
			if !ShouldCaptureValue(attr.Value) {
				continue
			}
			if d.Attributes == nil {
				d.Attributes = make(map[string]string)
			}
			d.Attributes[attr.Name] = attr.Value
		}
	}

	d.NthChild, d.NthOfType = position(el)
	return d
}

// SafeText returns el's own text: direct text children only, with every
// token that looks like a card number or SSN dropped and whitespace
// collapsed. Runs separated by child elements are joined with a single
// space, and the result is truncated.
func SafeText(el dom.Node) string {
	if !ShouldCaptureElement(el) {
		return ""
	}
	var runs []string
	for _, child := range el.Children() {
		if child.Kind() != dom.TextNode {
			continue
		}
		text := strings.TrimSpace(child.TextContent())
		if text == "" {
			continue
		}
		text = strings.TrimSpace(whitespaceRun.ReplaceAllString(scrubTokens(text), " "))
		if text != "" {
			runs = append(runs, text)
		}
	}
	return strings.TrimSpace(truncate(strings.Join(runs, " "), maxTextLength))
}

// scrubTokens splits on whitespace runs, keeping the separators, and drops
// the tokens that fail ShouldCaptureValue.
func scrubTokens(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range whitespaceRun.FindAllStringIndex(s, -1) {
		if tok := s[last:loc[0]]; ShouldCaptureValue(tok) {
			b.WriteString(tok)
		}
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	if tok := s[last:]; ShouldCaptureValue(tok) {
		b.WriteString(tok)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// position returns the 1-based nth-child and nth-of-type indices of el,
// counting element siblings only.
func position(el dom.Node) (nthChild, nthOfType int) {
	nthChild, nthOfType = 1, 1
	for sib := previousElementSibling(el); sib != nil; sib = previousElementSibling(sib) {
		nthChild++
		if sib.Tag() == el.Tag() {
			nthOfType++
		}
	}
	return nthChild, nthOfType
}

func previousElementSibling(n dom.Node) dom.Node {
	for sib := n.PreviousSibling(); sib != nil; sib = sib.PreviousSibling() {
		if sib.Kind() == dom.ElementNode {
			return sib
		}
	}
	return nil
}
