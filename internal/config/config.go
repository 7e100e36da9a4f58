// Package config loads the vault configuration. Values resolve in three
// layers: built-in defaults, then config.yaml from the config directory,
// then CHATVAULT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                 int    `yaml:"port"`
	DataDir              string `yaml:"data_dir"`
	InboxDir             string `yaml:"inbox_dir"` // empty disables the inbox watcher
	BlobQuota            int64  `yaml:"blob_quota"`
	WatchDebounceSeconds int    `yaml:"watch_debounce_seconds"`
	LogLevel             string `yaml:"log_level"`
}

func Load() (Config, error) {
	cfg := Config{
		Port:                 8730,
		WatchDebounceSeconds: 2,
		LogLevel:             "info",
	}

	dir, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg.Port = envInt("CHATVAULT_PORT", cfg.Port)
	cfg.DataDir = envStr("CHATVAULT_DATA_DIR", cfg.DataDir)
	cfg.InboxDir = envStr("CHATVAULT_INBOX_DIR", cfg.InboxDir)
	cfg.BlobQuota = envInt64("CHATVAULT_BLOB_QUOTA", cfg.BlobQuota)
	cfg.WatchDebounceSeconds = envInt("CHATVAULT_WATCH_DEBOUNCE", cfg.WatchDebounceSeconds)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)

	if cfg.DataDir == "" {
		cfg.DataDir, err = defaultDataDir()
		if err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	if override := os.Getenv("CHATVAULT_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "chatvault"), nil
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "ChatVault"), nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatvault"), nil
	}
	return filepath.Join(home, ".local", "share", "chatvault"), nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
