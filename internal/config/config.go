// Package config loads the YAML configuration shared by the moments CLI and
// servers. Command-line flags override file values in main.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-moments/internal/stats"
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	// Listen is the HTTP server address; empty disables it.
	Listen string `yaml:"listen"`
	// Flight is the Arrow Flight server address; empty disables it.
	Flight string `yaml:"flight"`
	// Server is a remote Flight server the CLI uploads to and computes on.
	Server string `yaml:"server"`

	MaxConcurrent    int    `yaml:"max_concurrent"`
	Workers          int    `yaml:"workers"`
	MaxWorkGroupSize int    `yaml:"max_work_group_size"`
	Options          string `yaml:"options"`
	RowBlocks        int64  `yaml:"row_blocks"`
	Ranks            int    `yaml:"ranks"`
	LogLevel         string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		MaxConcurrent:    64,
		MaxWorkGroupSize: 256,
		Options:          "all",
		Ranks:            1,
		LogLevel:         "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// The result is not validated, so later overrides can still repair it;
// callers run Validate once every source has been applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max_concurrent %d", ErrInvalid, c.MaxConcurrent)
	}
	if c.Ranks < 1 {
		return fmt.Errorf("%w: ranks %d", ErrInvalid, c.Ranks)
	}
	if c.RowBlocks < 0 {
		return fmt.Errorf("%w: row_blocks %d", ErrInvalid, c.RowBlocks)
	}
	if _, err := stats.ParseOptions(c.Options); err != nil {
		return fmt.Errorf("%w: options: %w", ErrInvalid, err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return nil
}

// Level returns the zerolog level named by LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	return zerolog.ParseLevel(c.LogLevel)
}
