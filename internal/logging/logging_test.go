package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
}

func TestSetupJSON(t *testing.T) {
	restoreLevel(t)
	var buf bytes.Buffer

	logger, err := Setup("warn", "json", &buf)
	require.NoError(t, err)
	logger.Info().Msg("dropped")
	logger.Warn().Str("item_id", "m1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "m1", entry["item_id"])
	assert.Equal(t, "kept", entry["message"])
}

func TestSetupPretty(t *testing.T) {
	restoreLevel(t)
	var buf bytes.Buffer

	logger, err := Setup("", "pretty", &buf)
	require.NoError(t, err)
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestSetupRejectsBadInput(t *testing.T) {
	restoreLevel(t)
	_, err := Setup("loud", "json", nil)
	assert.Error(t, err)
	_, err = Setup("info", "xml", nil)
	assert.Error(t, err)
}
