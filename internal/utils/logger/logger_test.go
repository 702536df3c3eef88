package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewZapLogger(t *testing.T) {
	t.Run("creates with default config", func(t *testing.T) {
		l, err := NewZapLogger(nil)
		require.NoError(t, err)
		assert.NotNil(t, l)
	})

	t.Run("writes json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l, err := NewZapLogger(&Config{Level: "info", Format: "json", Output: buf})
		require.NoError(t, err)

		l.Info("webhook processed", zap.String("provider", "stripe"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "webhook processed", entry["msg"])
		assert.Equal(t, "stripe", entry["provider"])
		assert.Equal(t, "info", entry["level"])
	})

	t.Run("writes console", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l, err := NewZapLogger(&Config{Level: "info", Format: "console", Output: buf})
		require.NoError(t, err)

		l.Info("test message")

		assert.Contains(t, buf.String(), "test message")
		assert.False(t, strings.HasPrefix(buf.String(), "{"))
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l, err := NewZapLogger(&Config{Level: "verbose", Output: buf})
		require.NoError(t, err)

		l.Debug("hidden")
		l.Info("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestLevels(t *testing.T) {
	tests := []struct {
		level   string
		logFunc func(*zap.Logger)
		logged  bool
	}{
		{"debug", func(l *zap.Logger) { l.Debug("msg") }, true},
		{"info", func(l *zap.Logger) { l.Debug("msg") }, false},
		{"warn", func(l *zap.Logger) { l.Info("msg") }, false},
		{"warn", func(l *zap.Logger) { l.Warn("msg") }, true},
		{"error", func(l *zap.Logger) { l.Warn("msg") }, false},
		{"error", func(l *zap.Logger) { l.Error("msg") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			l := Must(&Config{Level: tt.level, Output: buf})

			tt.logFunc(l)

			assert.Equal(t, tt.logged, buf.Len() > 0)
		})
	}
}
