package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewConfig_Levels(t *testing.T) {
	cfg, err := NewConfig("debug")
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, cfg.Level.Level())

	cfg, err = NewConfig("error")
	require.NoError(t, err)
	require.Equal(t, zapcore.ErrorLevel, cfg.Level.Level())

	_, err = NewConfig("loud")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	logger, err := New("detect_features", "info")
	require.NoError(t, err)
	require.NotNil(t, logger)
}
