package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".annomesh", "cli.yaml")
}

// Load reads the file at path. A missing file yields Default; keys absent
// from the file keep their default.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed. The file is
// only readable by its owner.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Set assigns one setting by key.
func (c *CLIConfig) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "server":
		if value == "" {
			return errors.New("server must not be empty")
		}
		c.Server = value
	case "output":
		switch value {
		case "table", "json", "yaml":
			c.Output = value
		default:
			return fmt.Errorf("output %q: must be table, json or yaml", value)
		}
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("timeout %q: must be a positive duration", value)
		}
		c.Timeout = d
	case "participant":
		c.Participant = value
	case "ca_file":
		c.CAFile = value
	default:
		return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(Keys, ", "))
	}
	return nil
}

// Get returns one setting by key.
func (c *CLIConfig) Get(key string) (string, error) {
	if !slices.Contains(Keys, strings.ToLower(key)) {
		return "", fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(Keys, ", "))
	}
	switch strings.ToLower(key) {
	case "server":
		return c.Server, nil
	case "output":
		return c.Output, nil
	case "timeout":
		return c.Timeout.String(), nil
	case "participant":
		return c.Participant, nil
	default:
		return c.CAFile, nil
	}
}
