// Package config holds the application configuration: local model paths,
// remote backend settings and the scan loop tuning knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Local   LocalConfig   `json:"local"`
	Remote  RemoteConfig  `json:"remote"`
	Scan    ScanConfig    `json:"scan"`
	History HistoryConfig `json:"history"`
}

// LocalConfig locates the on-device model.
type LocalConfig struct {
	ModelPath    string `json:"model_path"`
	MetadataPath string `json:"metadata_path"`
}

// RemoteConfig selects and addresses the cloud vision backend.
type RemoteConfig struct {
	Backend string `json:"backend"` // "ollama" or "llamacpp"
	URL     string `json:"url"`
	Model   string `json:"model"`
	Enabled bool   `json:"enabled"`
}

// ScanConfig tunes the continuous scanning loop.
type ScanConfig struct {
	IntervalMS      int     `json:"interval_ms"`
	Window          int     `json:"window"`
	History         int     `json:"history"`
	RunLength       int     `json:"run_length"`
	RejectThreshold float64 `json:"reject_threshold"`
}

// HistoryConfig locates the scan history database.
type HistoryConfig struct {
	Path string `json:"path"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Local: LocalConfig{
			ModelPath:    "models/gourd_classifier.onnx",
			MetadataPath: "models/gourd_classifier.json",
		},
		Remote: RemoteConfig{
			Backend: "ollama",
			URL:     "http://localhost:11434",
			Model:   "openbmb/minicpm-v4.5",
			Enabled: true,
		},
		Scan: ScanConfig{
			IntervalMS:      200,
			Window:          5,
			History:         7,
			RunLength:       5,
			RejectThreshold: 0.70,
		},
		History: HistoryConfig{
			Path: "gourdsight.db",
		},
	}
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a JSON file.
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays environment variables onto the configuration. A .env
// file is loaded first when present; missing files are ignored.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("GOURDSIGHT_REMOTE_URL"); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv("GOURDSIGHT_REMOTE_MODEL"); v != "" {
		c.Remote.Model = v
	}
	if v := os.Getenv("GOURDSIGHT_REMOTE_BACKEND"); v != "" {
		c.Remote.Backend = v
	}
	if v := os.Getenv("GOURDSIGHT_REMOTE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Remote.Enabled = enabled
		}
	}
	if v := os.Getenv("GOURDSIGHT_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("remote.backend must be ollama or llamacpp")
	}

	if c.Scan.IntervalMS < 50 {
		return fmt.Errorf("scan.interval_ms must be at least 50")
	}

	if c.Scan.Window < 1 {
		return fmt.Errorf("scan.window must be positive")
	}

	if c.Scan.History < 1 {
		return fmt.Errorf("scan.history must be positive")
	}

	if c.Scan.RunLength < 1 || c.Scan.RunLength > c.Scan.History {
		return fmt.Errorf("scan.run_length must be between 1 and scan.history")
	}

	if c.Scan.RejectThreshold < 0 || c.Scan.RejectThreshold > 1 {
		return fmt.Errorf("scan.reject_threshold must be between 0 and 1")
	}

	return nil
}

// GetConfigPath returns the default configuration file path.
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "gourdsight", "config.json")
}
