package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

// memSyncer is a minimal in-memory WriteSyncer for capturing console output.
type memSyncer struct {
	strings.Builder
}

func (m *memSyncer) Sync() error { return nil }

func testLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "deskpilot-test",
		// No LogFile: tests must not write rotation files.
	}
}

func TestInitializeAndGetLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memSyncer{}
	Initialize(testLoggerConfig(), zapcore.Lock(sink))

	logger := GetLogger()
	require.NotNil(t, logger)

	logger.Info("hello from test", zap.String("k", "v"))
	require.NoError(t, logger.Sync())

	out := sink.String()
	assert.Contains(t, out, "hello from test")
	assert.Contains(t, out, `"k":"v"`)
	assert.Contains(t, out, "deskpilot-test")
}

// A second Initialize call must not replace the first logger.
func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &memSyncer{}
	second := &memSyncer{}
	Initialize(testLoggerConfig(), zapcore.Lock(first))
	Initialize(testLoggerConfig(), zapcore.Lock(second))

	GetLogger().Info("only once")
	assert.Contains(t, first.String(), "only once")
	assert.Empty(t, second.String())
}

func TestGetLoggerBeforeInitializeFallsBack(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// The fallback must be usable without panicking.
	logger.Debug("fallback logger in use")
}

// An unparseable level falls back to info rather than failing.
func TestInitializeWithBadLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	cfg := testLoggerConfig()
	cfg.Level = "chatty"
	sink := &memSyncer{}
	Initialize(cfg, zapcore.Lock(sink))

	GetLogger().Debug("should be filtered at info level")
	GetLogger().Info("should appear")

	out := sink.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}
