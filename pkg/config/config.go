// Package config loads viewer settings from an optional YAML file.
// Command-line flags override anything set here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds viewer settings.
type Config struct {
	// APIBase is the REST root used for snapshot fetches and the polling
	// fallback.
	APIBase string `yaml:"api_base"`
	// StreamURL is the websocket endpoint for live events.
	StreamURL string `yaml:"stream_url"`
	// HistoryPath is the sqlite event-log location.
	HistoryPath string `yaml:"history_path"`
	// PollInterval is the fallback polling cadence.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ShowStart renders the synthetic start node.
	ShowStart bool `yaml:"show_start"`
}

// Default returns the built-in settings.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		APIBase:      "http://localhost:8080/api",
		StreamURL:    "ws://localhost:8080/ws/tasks",
		HistoryPath:  filepath.Join(home, ".planview", "history.db"),
		PollInterval: 2 * time.Second,
		ShowStart:    true,
	}
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(".", ".planview.yml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return cfg, nil
}
