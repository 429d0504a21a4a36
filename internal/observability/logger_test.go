// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rdSoftInc/deadbolt/internal/config"
)

type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func TestGetLogger_BeforeInitializeIsNop(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// A no-op logger discards everything without panicking.
	logger.Info("discarded")
}

func TestInitialize_WritesJSONToConsole(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "deadbolt-test",
	}, zapcore.AddSync(&buf))

	GetLogger().Info("probe dispatched", zap.String("tool", "subfinder"))
	require.NoError(t, GetLogger().Sync())

	out := buf.String()
	assert.Contains(t, out, `"msg":"probe dispatched"`)
	assert.Contains(t, out, `"tool":"subfinder"`)
	assert.Contains(t, out, "deadbolt-test")
}

func TestInitialize_RespectsLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{
		Level:  "warn",
		Format: "json",
	}, zapcore.AddSync(&buf))

	GetLogger().Info("below threshold")
	GetLogger().Warn("at threshold")

	out := buf.String()
	assert.NotContains(t, out, "below threshold")
	assert.Contains(t, out, "at threshold")
}

func TestInitialize_InvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{
		Level:  "extremely-verbose",
		Format: "json",
	}, zapcore.AddSync(&buf))

	GetLogger().Debug("hidden")
	GetLogger().Info("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestInitialize_OnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second syncBuffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&second))

	GetLogger().Info("routed once")

	assert.True(t, strings.Contains(first.String(), "routed once"))
	assert.Empty(t, second.String())
}

func TestSync_UninitializedIsSafe(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	// Must not panic.
	Sync()
}
