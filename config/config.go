/*
Package config loads server configuration from a YAML file with environment
overrides for the two deployment-sensitive values (listen address, database
path). Every field has a default so the server runs with no file at all.
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/lending-engine/lending"
)

type Config struct {
	Listen         string   `yaml:"listen"`
	DBPath         string   `yaml:"db_path"`
	CutoverHour    int      `yaml:"cutover_hour"`
	UndoLimit      int      `yaml:"undo_limit"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Listen:         ":8080",
		DBPath:         "lending.db",
		CutoverHour:    lending.DefaultCutoverHour,
		UndoLimit:      3,
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
	}
}

// Load reads the YAML file at path over the defaults. An empty path skips the
// file and returns defaults plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("LENDING_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("LENDING_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CutoverHour < 0 || c.CutoverHour > 23 {
		return fmt.Errorf("cutover_hour %d out of range 0-23", c.CutoverHour)
	}
	if c.UndoLimit < 1 {
		return fmt.Errorf("undo_limit %d must be at least 1", c.UndoLimit)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
