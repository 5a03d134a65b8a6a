package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/DatanoiseTV/contextmcp/internal/history"
	"github.com/DatanoiseTV/contextmcp/internal/index"
)

// Config holds application configuration.
type Config struct {
	Root     string        `mapstructure:"root"`
	LogLevel string        `mapstructure:"log_level"`
	LogFile  string        `mapstructure:"log_file"`
	History  HistoryConfig `mapstructure:"history"`
	Index    IndexConfig   `mapstructure:"index"`
}

// HistoryConfig controls the revision history database.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Limit   int  `mapstructure:"limit"`
}

// IndexConfig controls the index writer.
type IndexConfig struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// setDefaults registers every key so env overrides apply even without a file.
func setDefaults(v *viper.Viper) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	v.SetDefault("root", filepath.Join(homeDir, DefaultRootDirName))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.limit", history.DefaultLimit)
	v.SetDefault("index.lock_timeout", index.DefaultLockTimeout)
	return nil
}

// LoadConfig resolves configuration from flags already bound to v,
// CONTEXTMCP_* environment variables, an optional config file and defaults.
// A missing config file is not an error.
func LoadConfig(v *viper.Viper, configFile string, logger zerolog.Logger) (*Config, error) {
	if err := setDefaults(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ConfigDirName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Debug().Msg("config file not found, using defaults and environment variables")
	} else {
		logger.Debug().Str("path", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = history.DefaultLimit
	}
	if cfg.Index.LockTimeout <= 0 {
		cfg.Index.LockTimeout = index.DefaultLockTimeout
	}
	return &cfg, nil
}

// NewLogger builds the process logger. Output goes to stderr because
// stdout carries the MCP stream; LogFile adds a second sink.
func NewLogger(cfg *Config, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{stderr}
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("service", ServerName).
		Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
