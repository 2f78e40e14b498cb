package ctl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkoutPage = `<html><body>
<div id="shop">
  <a id="home" href="/home" class="nav">Home</a>
  <button id="buy" class="btn primary">Buy now</button>
  <div class="st-sensitive"><button id="secret">Reveal</button></div>
  <div class="st-no-capture"><button id="quiet">Quiet</button></div>
  <input id="card" name="cardnumber" type="text">
</div>
</body></html>`

func writeHTML(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(checkoutPage), 0o644))
	return path
}

func classifyJSON(t *testing.T, opts ClassifyOptions) []map[string]any {
	t.Helper()
	out := captureOutput(t)
	opts.JSON = true
	require.NoError(t, Classify(opts))

	var results []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	return results
}

func TestClassifyCapturedClick(t *testing.T) {
	results := classifyJSON(t, ClassifyOptions{HTML: writeHTML(t), Selector: "#buy"})
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "button", r["tag"])
	assert.Equal(t, "click", r["event"])
	assert.Equal(t, true, r["captured"])

	record := r["record"].(map[string]any)
	assert.Equal(t, "click", record["$event_type"])
	elements := record["$elements"].([]any)
	first := elements[0].(map[string]any)
	assert.Equal(t, "Buy now", first["$el_text"])
}

func TestClassifyAnchorHref(t *testing.T) {
	results := classifyJSON(t, ClassifyOptions{HTML: writeHTML(t), Selector: "#home"})
	record := results[0]["record"].(map[string]any)
	assert.Equal(t, "/home", record["$href"])
}

func TestClassifyMarkers(t *testing.T) {
	results := classifyJSON(t, ClassifyOptions{HTML: writeHTML(t), Selector: "#secret, #quiet"})
	require.Len(t, results, 2)

	// Document order: #secret comes first.
	secret, quiet := results[0], results[1]

	// A sensitive ancestor redacts but still records the click.
	assert.Equal(t, true, secret["captured"])
	assert.Equal(t, false, secret["capturable"])
	first := secret["record"].(map[string]any)["$elements"].([]any)[0].(map[string]any)
	assert.Equal(t, "", first["$el_text"])
	assert.NotContains(t, first, "attr__id")

	// A no-capture ancestor drops the event entirely.
	assert.Equal(t, false, quiet["captured"])
	assert.Nil(t, quiet["record"])
}

func TestClassifyWrongEventType(t *testing.T) {
	results := classifyJSON(t, ClassifyOptions{HTML: writeHTML(t), Selector: "#buy", Event: "submit"})
	assert.Equal(t, false, results[0]["eligible"])
	assert.Equal(t, false, results[0]["captured"])
}

func TestClassifyText(t *testing.T) {
	out := captureOutput(t)
	require.NoError(t, Classify(ClassifyOptions{HTML: writeHTML(t), Selector: "button"}))

	text := out.String()
	assert.Contains(t, text, "CAPTURED")
	assert.Contains(t, text, "SKIPPED")
	assert.Contains(t, text, "button#buy.btn.primary")
}

func TestClassifyErrors(t *testing.T) {
	captureOutput(t)
	path := writeHTML(t)

	assert.Error(t, Classify(ClassifyOptions{Selector: "#buy"}))
	assert.Error(t, Classify(ClassifyOptions{HTML: path}))
	assert.ErrorContains(t, Classify(ClassifyOptions{HTML: path, Selector: "#missing"}), "matched nothing")
	assert.Error(t, Classify(ClassifyOptions{HTML: path, Selector: "[[["}))
}
