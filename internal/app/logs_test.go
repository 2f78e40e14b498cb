package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/storytime/internal/config"
)

func TestLogBufferKeepsNewest(t *testing.T) {
	buf := NewLogBuffer(3)
	cfg := config.Default()
	cfg.Logging.Format = "json"
	logger := NewLogger(cfg, &bytes.Buffer{}, buf)

	logger.Info().Msg("one")
	logger.Warn().Str("component", "tracker").Msg("two")
	logger.Info().Msg("three")
	logger.Info().Msg("four")

	all := buf.Entries("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "two", all[0].Message)
	assert.Equal(t, "tracker", all[0].Component)
	assert.Equal(t, "four", all[2].Message)
	assert.NotEmpty(t, all[2].TS)

	warn := buf.Entries("warn", 0)
	require.Len(t, warn, 1)
	assert.Equal(t, "two", warn[0].Message)

	last := buf.Entries("", 1)
	require.Len(t, last, 1)
	assert.Equal(t, "four", last[0].Message)
}

func TestLogBufferForwards(t *testing.T) {
	buf := NewLogBuffer(10)
	var got []LogEntry
	buf.Forward(func(e LogEntry) { got = append(got, e) })

	logger := NewLogger(config.Default(), &bytes.Buffer{}, buf)
	logger.Debug().Msg("hidden at info")
	logger.Error().Msg("boom")

	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Level)
	assert.Equal(t, "boom", got[0].Message)
}

func TestNewLoggerDebugOverridesLevel(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Default()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "error"
	cfg.Debug = true

	NewLogger(cfg, &out, nil).Debug().Msg("visible")
	assert.Contains(t, out.String(), `"message":"visible"`)
}

func TestLogBufferIgnoresGarbage(t *testing.T) {
	buf := NewLogBuffer(2)
	n, err := buf.Write([]byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Empty(t, buf.Entries("", 0))
}
