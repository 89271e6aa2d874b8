package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Thresholds.Distance)
	assert.Equal(t, 128, cfg.Enrollment.Dim)
	assert.Equal(t, "flat", cfg.Index.Kind)
	assert.Equal(t, time.Second, cfg.Stream.Debounce)
	assert.Equal(t, "debounced", cfg.Attendance.Mode)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
thresholds:
  distance: 0.35
enrollment:
  dir: /srv/faces
engine:
  kind: dlib
  cnn: true
stream:
  debounce: 2500ms
  source: dir:/tmp/frames
attendance:
  mode: every-match
  mqtt:
    broker: localhost:1883
    qos: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.35, cfg.Thresholds.Distance)
	assert.Equal(t, "/srv/faces", cfg.Enrollment.Dir)
	assert.Equal(t, 128, cfg.Enrollment.Dim, "unset keys keep their defaults")
	assert.Equal(t, "dlib", cfg.Engine.Kind)
	assert.True(t, cfg.Engine.CNN)
	assert.Equal(t, 2500*time.Millisecond, cfg.Stream.Debounce)
	assert.Equal(t, "dir:/tmp/frames", cfg.Stream.Source)
	assert.Equal(t, "every-match", cfg.Attendance.Mode)
	assert.Equal(t, byte(1), cfg.Attendance.MQTT.QoS)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "thresholds:\n  distance: 0.35\n")
	t.Setenv("ROLLCALL_DISTANCE_THRESHOLD", "0.2")
	t.Setenv("ROLLCALL_DEBOUNCE", "3s")
	t.Setenv("ROLLCALL_DATABASE_URL", "postgres://db/rollcall")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Thresholds.Distance)
	assert.Equal(t, 3*time.Second, cfg.Stream.Debounce)
	assert.Equal(t, "postgres://db/rollcall", cfg.Attendance.DatabaseURL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "thresholds: [1, 2"},
		{"zero threshold", "thresholds:\n  distance: 0\n"},
		{"negative threshold", "thresholds:\n  distance: -0.1\n"},
		{"unknown index", "index:\n  kind: ivf\n"},
		{"unknown mode", "attendance:\n  mode: sometimes\n"},
		{"bad every_nth", "stream:\n  every_nth: 0\n"},
		{"bad dim", "enrollment:\n  dim: 0\n"},
		{"bad engine", "engine:\n  kind: opencv\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "identity", "alice")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"identity":"alice"`)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelWarn))
}
