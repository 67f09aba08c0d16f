package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/njchilds90/srpoc/internal/config"
)

func TestConfig_Levels(t *testing.T) {
	zc, err := Config(config.LoggingConfig{Level: "warn"}, false)
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, zc.Level.Level())
	assert.Equal(t, "console", zc.Encoding)

	zc, err = Config(config.LoggingConfig{Level: "warn"}, true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, zc.Level.Level())

	zc, err = Config(config.LoggingConfig{}, false)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, zc.Level.Level())
}

func TestConfig_Format(t *testing.T) {
	zc, err := Config(config.LoggingConfig{Format: "json"}, false)
	require.NoError(t, err)
	assert.Equal(t, "json", zc.Encoding)
	assert.Equal(t, []string{"stderr"}, zc.OutputPaths)

	_, err = Config(config.LoggingConfig{Format: "xml"}, false)
	assert.Error(t, err)
	_, err = Config(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "error"}, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
