package provenance

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/i5heu/provenance-mark/pkg/logging"
	"github.com/i5heu/provenance-mark/pkg/resolution"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "PROVENANCE_"

// Config configures a Ledger. Only Paths[0] is used at the moment.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string `yaml:"paths" toml:"paths" env:"PATHS" envSeparator:","`
	// MinimumFreeGB is a free-space threshold checked when the store opens.
	MinimumFreeGB uint `yaml:"minimumFreeGB" toml:"minimumFreeGB" env:"MINIMUM_FREE_GB"`
	// Resolution is used for new chains that do not pick one.
	Resolution resolution.Resolution `yaml:"resolution" toml:"resolution" env:"RESOLUTION"`
	// LogLevel applies to the default loggers.
	LogLevel slog.Level `yaml:"logLevel" toml:"logLevel" env:"LOG_LEVEL"`

	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger `yaml:"-" toml:"-" env:"-"`
	// StoreLogger is handed to the chain store. If nil, one is derived from LogLevel.
	StoreLogger *logrus.Logger `yaml:"-" toml:"-" env:"-"`
	// Random is the entropy source for new seeds. If nil, crypto/rand is used.
	Random io.Reader `yaml:"-" toml:"-" env:"-"`
}

// DefaultConfig returns the values LoadConfig starts from.
func DefaultConfig() Config { // A
	return Config{
		Resolution: resolution.Medium,
		LogLevel:   slog.LevelInfo,
	}
}

// LoadConfig reads a YAML or TOML file, chosen by extension, on top of
// DefaultConfig and applies PROVENANCE_* environment overrides. An empty
// path skips the file.
func LoadConfig(path string) (Config, error) { // A
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse yaml config %s: %w", path, err)
			}
		case ".toml":
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return Config{}, fmt.Errorf("parse toml config %s: %w", path, err)
			}
		default:
			return Config{}, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func defaultLogger(level slog.Level) *slog.Logger { // A
	if level == slog.LevelInfo {
		return logging.Logger
	}
	return logging.New(os.Stderr, level)
}

func defaultStoreLogger(level slog.Level) *logrus.Logger { // A
	l := logrus.New()
	l.SetOutput(os.Stderr)
	switch {
	case level <= slog.LevelDebug:
		l.SetLevel(logrus.DebugLevel)
	case level <= slog.LevelInfo:
		l.SetLevel(logrus.InfoLevel)
	case level <= slog.LevelWarn:
		l.SetLevel(logrus.WarnLevel)
	default:
		l.SetLevel(logrus.ErrorLevel)
	}
	return l
}
