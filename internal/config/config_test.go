package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"COVERNEST_LOG_LEVEL",
	"COVERNEST_LOG_FORMAT",
	"COVERNEST_WORKERS",
	"COVERNEST_MODULE_WORKERS",
	"COVERNEST_INCLUDE",
	"COVERNEST_EXCLUDE",
	// envconfig falls back to the unprefixed tag names
	"LOG_LEVEL",
	"LOG_FORMAT",
	"WORKERS",
	"MODULE_WORKERS",
	"INCLUDE",
	"EXCLUDE",
}

// clearEnvVars unsets the configuration variables for the duration of the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, 1, cfg.ModuleWorkers)
	assert.Empty(t, cfg.Include)
	assert.Empty(t, cfg.Exclude)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("COVERNEST_LOG_LEVEL", "debug")
	t.Setenv("COVERNEST_LOG_FORMAT", "json")
	t.Setenv("COVERNEST_WORKERS", "3")
	t.Setenv("COVERNEST_MODULE_WORKERS", "4")
	t.Setenv("COVERNEST_INCLUDE", "coverage*.xml,TestResults/")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 4, cfg.ModuleWorkers)
	assert.Equal(t, []string{"coverage*.xml", "TestResults/"}, cfg.Include)
}

func TestLoadFromDotEnv(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("COVERNEST_WORKERS", "2")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("COVERNEST_WORKERS=8\nCOVERNEST_EXCLUDE=old\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("COVERNEST_EXCLUDE") })

	cfg, err := Load(path)
	require.NoError(t, err)

	// Already-set variables win over the file.
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, []string{"old"}, cfg.Exclude)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"not a number", "COVERNEST_WORKERS", "many"},
		{"negative workers", "COVERNEST_WORKERS", "-1"},
		{"negative module workers", "COVERNEST_MODULE_WORKERS", "-2"},
		{"log format", "COVERNEST_LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, LogFormatJSON, "WARN")
	logger.Info("hidden")
	logger.Warn("shown", "report", "a.xml")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"report":"a.xml"`)

	buf.Reset()
	NewLogger(&buf, LogFormatText, "INFO").Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
