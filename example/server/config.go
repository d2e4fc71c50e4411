package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const envPrefix = "LUCETS_"

// Config holds the example server settings. Values are read from an
// optional TOML file first, then overridden by LUCETS_ prefixed
// environment variables.
type Config struct {
	Address         string        `toml:"address" env:"ADDRESS"`
	Path            string        `toml:"path" env:"WS_PATH"`
	Origins         []string      `toml:"origins" env:"ORIGINS" envSeparator:","`
	ReadLimit       int64         `toml:"read_limit" env:"READ_LIMIT"`
	JWTSecret       string        `toml:"jwt_secret" env:"JWT_SECRET"`
	NATSURL         string        `toml:"nats_url" env:"NATS_URL"`
	NATSSubject     string        `toml:"nats_subject" env:"NATS_SUBJECT"`
	MetricsPath     string        `toml:"metrics_path" env:"METRICS_PATH"`
	LogLevel        string        `toml:"log_level" env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

func defaultConfig() Config {
	return Config{
		Address:         ":8167",
		Path:            "/ws",
		ReadLimit:       32768,
		NATSSubject:     "lucets.faults",
		MetricsPath:     "/metrics",
		LogLevel:        "info",
		ShutdownTimeout: 30 * time.Second,
	}
}

// loadConfig reads the TOML file at path, if it exists, and applies
// environment overrides. A nil environment means the process environment.
func loadConfig(path string, environment map[string]string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environment,
	}); err != nil {
		return Config{}, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("path must start with /, got %q", c.Path)
	}
	if c.ReadLimit < 0 {
		return fmt.Errorf("read limit must not be negative, got %d", c.ReadLimit)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
