package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plain() *bool {
	b := false
	return &b
}

func TestConfigure_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Output: &buf, Console: plain()})

	logger := WithComponent("player")
	logger.Info().Str("method", "Sum").Msg("replayed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "playback", entry["service"])
	assert.Equal(t, "player", entry["component"])
	assert.Equal(t, "Sum", entry["method"])
	assert.Equal(t, "replayed", entry["message"])
}

func TestConfigure_Level(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "WARN", Output: &buf, Console: plain()})

	logger := Base()
	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestConfigure_EnvLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Console: plain()})

	logger := Base()
	logger.Warn().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestConfigure_ServiceOverride(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Service: "replayer", Console: plain()})

	logger := Base()
	logger.Info().Msg("x")
	assert.Contains(t, buf.String(), `"service":"replayer"`)
}

func TestWithComponent_InheritsLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "error", Output: &buf, Console: plain()})

	logger := WithComponent("cassette")
	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Error().Msg("shown")
	assert.Contains(t, buf.String(), `"component":"cassette"`)
}

func TestIsTerminal_NonFiles(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
	assert.False(t, IsTerminal(nil))
}
