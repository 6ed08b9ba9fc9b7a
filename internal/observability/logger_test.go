// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/carlot/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -- Test Helper Functions --

// bufferSink is a WriteSyncer over an in-memory buffer.
type bufferSink struct {
	bytes.Buffer
}

func (b *bufferSink) Sync() error { return nil }

// -- Test Cases --

func TestNewLogger(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		sink := &bufferSink{}
		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		}
		logger := NewLogger(cfg, sink)
		logger.Info("This is a test message.")
		require.NoError(t, logger.Sync())

		output := sink.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, colorGreen)
		assert.Contains(t, output, colorReset)
		assert.Contains(t, output, "TestService.")
	})

	t.Run("json logger", func(t *testing.T) {
		sink := &bufferSink{}
		cfg := config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}
		logger := NewLogger(cfg, sink)
		logger.Warn("This is a JSON message.", zap.String("key", "value"))
		require.NoError(t, logger.Sync())

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(sink.Bytes(), &logEntry), "log output should be valid JSON")

		assert.Equal(t, "warn", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
	})

	t.Run("level filtering", func(t *testing.T) {
		sink := &bufferSink{}
		logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, sink)
		logger.Info("dropped")
		logger.Error("kept")
		require.NoError(t, logger.Sync())

		assert.NotContains(t, sink.String(), "dropped")
		assert.Contains(t, sink.String(), "kept")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		sink := &bufferSink{}
		logger := NewLogger(config.LoggerConfig{Level: "loud", Format: "json"}, sink)
		logger.Debug("hidden")
		logger.Info("shown")
		require.NoError(t, logger.Sync())

		assert.NotContains(t, sink.String(), "hidden")
		assert.Contains(t, sink.String(), "shown")
	})

	t.Run("writes to a rotating log file", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "carlot.log")
		cfg := config.LoggerConfig{Level: "debug", Format: "console", LogFile: logPath, MaxSize: 1}

		logger := NewLogger(cfg, zapcore.AddSync(&bufferSink{}))
		logger.Error("This should go to the file.")
		_ = logger.Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		// The file core is always JSON regardless of the console format.
		assert.True(t, strings.HasPrefix(strings.TrimSpace(string(content)), "{"))
	})
}

func TestInitialize(t *testing.T) {
	t.Run("only the first call takes effect", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		sink := &bufferSink{}

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "First"}, sink)
		logger1 := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, sink)
		logger2 := GetLogger()

		assert.Equal(t, logger1, logger2)
		logger2.Info("test")
		Sync()

		assert.Contains(t, sink.String(), "First")
		assert.NotContains(t, sink.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback logger before initialization", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("global logger after initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, &bufferSink{})

		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}
