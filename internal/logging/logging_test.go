package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(slog.LevelDebug, FormatText, &buf)
	require.NoError(t, err)

	Component(logger, "pipeline").Info("hello")
	assert.Contains(t, buf.String(), "component=pipeline")
	assert.Contains(t, buf.String(), "hello")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(slog.LevelInfo, FormatJSON, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("json check")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"level":"INFO"`)
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(slog.LevelInfo, "xml", nil)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
