package logging_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurodenjiro/cryto-chat/pkg/logging"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"debug": "DEBUG", "INFO": "INFO", "": "INFO", "warning": "WARN", "error": "ERROR",
	} {
		lvl, err := logging.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, lvl.String())
	}
	_, err := logging.ParseLevel("loud")
	require.Error(t, err)
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, logging.LevelInfo, "json")
	logger.Debug("hidden")
	logger.Info("Relay started", "addr", "127.0.0.1:8080")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"Relay started"`)
	assert.Contains(t, out, `"addr":"127.0.0.1:8080"`)
}
