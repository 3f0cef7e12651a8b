package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/cascade/internal/scheduler"
)

// Config holds all cascade configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	PollSpec       string `json:"poll_spec"`
	DefinitionsDir string `json:"definitions_dir"`
	ListenAddr     string `json:"listen_addr"`
	Panel          bool   `json:"panel"`
}

func defaultConfig() Config {
	return Config{
		DBPath:     filepath.Join(cascadeDir(), "cascade.db"),
		LogLevel:   "info",
		PollSpec:   scheduler.DefaultPollSpec,
		ListenAddr: ":4100",
	}
}

func cascadeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cascade"
	}
	return filepath.Join(home, ".cascade")
}

func settingsPath() string {
	return filepath.Join(cascadeDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("CASCADE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("CASCADE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("CASCADE_POLL_SPEC"); v != "" {
		cfg.PollSpec = v
	}
	if v := getenv("CASCADE_DEFINITIONS_DIR"); v != "" {
		cfg.DefinitionsDir = v
	}
	if v := getenv("CASCADE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("CASCADE_PANEL"); v != "" {
		cfg.Panel = v == "true" || v == "1"
	}

	return cfg
}

// dsn turns a plain path into the file URI libsql expects.
func (c Config) dsn() string {
	if strings.HasPrefix(c.DBPath, "file:") || strings.Contains(c.DBPath, "://") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}
