// Package config loads covernest settings from the environment and builds
// the logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable, e.g. COVERNEST_LOG_LEVEL.
const EnvPrefix = "COVERNEST"

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the environment-based configuration. Command line flags
// override these values.
type Config struct {
	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is text or json.
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// Workers is the number of reports processed at once; 0 means GOMAXPROCS.
	Workers int `envconfig:"WORKERS" default:"0"`

	// ModuleWorkers is the number of modules of one report normalized at once.
	ModuleWorkers int `envconfig:"MODULE_WORKERS" default:"1"`

	// Include and Exclude are comma-separated .gitignore-style patterns
	// applied when a directory is searched for reports.
	Include []string `envconfig:"INCLUDE"`
	Exclude []string `envconfig:"EXCLUDE"`
}

// Load reads envFile (if it exists) into the environment and then decodes
// the COVERNEST_* variables. Variables already set win over the file.
func Load(envFile string) (Config, error) {
	if err := LoadDotEnv(envFile); err != nil {
		return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from a .env file.
// If path is empty, it loads from ".env" in the current directory.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalid, c.Workers)
	}
	if c.ModuleWorkers < 0 {
		return fmt.Errorf("%w: module workers must not be negative, got %d", ErrInvalid, c.ModuleWorkers)
	}
	switch strings.ToLower(c.LogFormat) {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// NewLogger creates a logger writing to w in the given format.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, LogFormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
