package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"dropmail/backend/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("非法级别回退到 info", func(t *testing.T) {
		logger, err := New(config.LogConfig{Level: "verbose"}, "test")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "app.log")
		logger, err := New(config.LogConfig{Level: "debug", File: file, MaxSize: 1}, "dropmail")
		require.NoError(t, err)

		logger.Info("hello")
		_ = logger.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"hello"`)
		assert.Contains(t, string(data), `"service":"dropmail"`)
	})

	t.Run("开发模式", func(t *testing.T) {
		logger := NewDevelopment()
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})
}
