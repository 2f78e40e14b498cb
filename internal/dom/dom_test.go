package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!doctype html><html><head><title> Checkout </title></head><body>
<form id="f" class="checkout wide">
  <input id="q" name="qty">
  <button>Go</button>
  <select name="size"><option value="s">Small</option><option selected>Large</option></select>
  <textarea name="note">hello</textarea>
  <!-- note -->
  <a href="/x">one <b>two</b></a>
</form>
</body></html>`

func parsePage(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseString(page)
	require.NoError(t, err)
	return doc
}

func TestDocumentQueries(t *testing.T) {
	doc := parsePage(t)

	assert.Equal(t, "Checkout", doc.Title())
	require.NotNil(t, doc.Body())
	assert.Equal(t, "body", doc.Body().Tag())
	assert.Equal(t, DocumentNode, doc.Root().Kind())

	all, err := doc.QuerySelectorAll("form > *")
	require.NoError(t, err)
	tags := make([]string, 0, len(all))
	for _, n := range all {
		tags = append(tags, n.Tag())
	}
	assert.Equal(t, []string{"input", "button", "select", "textarea", "a"}, tags)

	_, err = doc.QuerySelector("video")
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = doc.QuerySelectorAll("[[")
	assert.Error(t, err)
}

func TestNodeProperties(t *testing.T) {
	doc := parsePage(t)
	form, err := doc.QuerySelector("#f")
	require.NoError(t, err)

	assert.Equal(t, []string{"checkout", "wide"}, form.Classes())
	assert.Equal(t, "f", form.ID())
	assert.Equal(t, "body", form.Parent().Tag())

	tests := []struct {
		selector string
		typ      string
		value    string
	}{
		{"input", "text", ""},
		{"button", "submit", ""},
		{"select", "select-one", "Large"},
		{"textarea", "textarea", "hello"},
	}
	for _, tt := range tests {
		n, err := doc.QuerySelector(tt.selector)
		require.NoError(t, err)
		assert.Equal(t, tt.typ, n.Type(), tt.selector)
		assert.Equal(t, tt.value, n.Value(), tt.selector)
	}

	a, err := doc.QuerySelector("a")
	require.NoError(t, err)
	assert.Equal(t, "one two", a.TextContent())
	href, ok := a.Attr("HREF")
	assert.True(t, ok)
	assert.Equal(t, "/x", href)

	// Wrappers of the same node compare equal.
	again, err := doc.QuerySelector("form a")
	require.NoError(t, err)
	assert.True(t, a == again)
}

func TestSiblingsIncludeTextAndComments(t *testing.T) {
	doc := parsePage(t)
	a, err := doc.QuerySelector("a")
	require.NoError(t, err)

	var kinds []Kind
	for s := a.PreviousSibling(); s != nil; s = s.PreviousSibling() {
		kinds = append(kinds, s.Kind())
	}
	assert.Contains(t, kinds, CommentNode)
	assert.Contains(t, kinds, TextNode)
}

func TestMutation(t *testing.T) {
	doc := parsePage(t)
	input, err := doc.QuerySelector("#q")
	require.NoError(t, err)

	require.True(t, SetAttribute(input, "value", "3"))
	assert.Equal(t, "3", input.Value())
	require.True(t, SetAttribute(input, "value", "4"))
	assert.Equal(t, "4", input.Value())

	a, err := doc.QuerySelector("a")
	require.NoError(t, err)
	require.True(t, SetText(a, "replaced"))
	assert.Equal(t, "replaced", a.TextContent())

	assert.False(t, SetText(nil, "x"))

	var b strings.Builder
	require.NoError(t, doc.Render(&b))
	assert.Contains(t, b.String(), `value="4"`)
	assert.Contains(t, b.String(), ">replaced</a>")
}
