// Package autocapture decides which DOM interactions are safe to record and
// turns the elements involved into redacted descriptors. The functions in
// this file are pure: they only read the tree they are handed.
package autocapture

import (
	"regexp"
	"slices"
	"strings"

	"github.com/large-farva/storytime/internal/dom"
)

// Marker classes page authors put on elements to steer capture.
const (
	ClassSensitive = "st-sensitive"
	ClassNoCapture = "st-no-capture"
	ClassInclude   = "st-include"
)

// usefulElements are the tags whose interactions carry meaning on their own.
var usefulElements = []string{"a", "button", "form", "input", "select", "textarea", "label"}

var (
	// Visa, MasterCard, Discover, Amex, Diners Club and JCB number shapes.
	creditCardPattern = regexp.MustCompile(`^(?:(4[0-9]{12}(?:[0-9]{3})?)|(5[1-5][0-9]{14})|(6(?:011|5[0-9]{2})[0-9]{12})|(3[47][0-9]{13})|(3(?:0[0-5]|[68][0-9])[0-9]{11})|((?:2131|1800|35[0-9]{3})[0-9]{11}))$`)
	ssnPattern        = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)

	sensitiveNamePattern = regexp.MustCompile(`(?i)^cc|cardnum|ccnum|creditcard|csc|cvc|cvv|exp|pass|pwd|routing|seccode|securitycode|securitynum|socialsec|socsec|ssn`)
	nonAlphanumeric      = regexp.MustCompile(`[^a-zA-Z0-9]`)
	cardSeparators       = strings.NewReplacer("-", "", " ", "")
)

// Classification is the capture decision for a single element.
type Classification struct {
	Capturable bool `json:"capturable"`
}

// ClassifyElement reports whether el may contribute attributes and text to
// a captured record.
func ClassifyElement(el dom.Node) Classification {
	return Classification{Capturable: ShouldCaptureElement(el)}
}

// ShouldCaptureValue rejects nil and strings shaped like a card number or a
// social security number. Everything else passes.
func ShouldCaptureValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case *string:
		if v == nil {
			return false
		}
		return ShouldCaptureValue(*v)
	case string:
		v = strings.TrimSpace(v)
		if creditCardPattern.MatchString(cardSeparators.Replace(v)) {
			return false
		}
		if ssnPattern.MatchString(v) {
			return false
		}
	}
	return true
}

// ShouldCaptureElement reports whether el's attributes and text are safe to
// record. Any ancestor below <body> carrying a sensitive or no-capture
// marker vetoes capture; an include marker on el overrides the field-type
// and field-name heuristics.
func ShouldCaptureElement(el dom.Node) bool {
	for cur := el; cur.Parent() != nil && !isTag(cur, "body"); cur = cur.Parent() {
		if hasClass(cur, ClassSensitive) || hasClass(cur, ClassNoCapture) {
			return false
		}
	}

	if hasClass(el, ClassInclude) {
		return true
	}

	// Form fields are never captured: client code can put anything in
	// their attributes.
	if (isTag(el, "input") && el.Type() != "button") ||
		isTag(el, "select") ||
		isTag(el, "textarea") ||
		isContentEditable(el) {
		return false
	}

	switch strings.ToLower(el.Type()) {
	case "hidden", "password":
		return false
	}

	name := el.Name()
	if name == "" {
		name = el.ID()
	}
	if name != "" && sensitiveNamePattern.MatchString(nonAlphanumeric.ReplaceAllString(name, "")) {
		return false
	}

	return true
}

// ShouldCaptureDomEvent filters on the combination of target tag and event
// type. The root <html> element is never eligible.
func ShouldCaptureDomEvent(el dom.Node, eventType string) bool {
	if el == nil || el.Kind() != dom.ElementNode || isTag(el, "html") {
		return false
	}

	parentIsUseful := false
	for cur := el; cur.Parent() != nil && !isTag(cur, "body"); cur = cur.Parent() {
		if isUseful(cur.Parent().Tag()) {
			parentIsUseful = true
		}
	}

	tag := el.Tag()
	switch tag {
	case "form":
		return eventType == "submit"
	case "input", "select", "textarea":
		return eventType == "change" || eventType == "click"
	default:
		if parentIsUseful {
			return eventType == "click"
		}
		return eventType == "click" && (isUseful(tag) || isContentEditable(el))
	}
}

func isUseful(tag string) bool {
	return slices.Contains(usefulElements, tag)
}

func isTag(el dom.Node, tag string) bool {
	return el != nil && el.Tag() == tag
}

func hasClass(el dom.Node, class string) bool {
	return slices.Contains(el.Classes(), class)
}

func isContentEditable(el dom.Node) bool {
	v, _ := el.Attr("contenteditable")
	return v == "true"
}
