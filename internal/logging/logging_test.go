package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"chatrelay/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LogConfig
		enabled zapcore.Level
		hidden  zapcore.Level
	}{
		{"default", nil, zapcore.InfoLevel, zapcore.DebugLevel},
		{"json warn", &config.LogConfig{Level: "warn", Format: "json"}, zapcore.WarnLevel, zapcore.InfoLevel},
		{"console debug", &config.LogConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel, zapcore.DebugLevel - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.hidden))
		})
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(&config.LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, err = New(&config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
