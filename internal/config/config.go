// Package config handles quest-tracker configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all configuration. Cache generation identifiers, shell asset
// lists, and sync schedules live here rather than as literals scattered
// through the components.
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Upstream application origin proxied for uncached requests
	Upstream string `json:"upstream"`

	// App shell
	Assets AssetsConfig `json:"assets"`

	// Response cache
	Cache CacheConfig `json:"cache"`

	// Deferred work
	Sync SyncConfig `json:"sync"`
}

// ServerConfig for the HTTP server
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// AssetsConfig names the app-shell assets precached at install time.
// The shell list references assets as request paths relative to Dir.
type AssetsConfig struct {
	Dir   string   `json:"dir"`
	Shell []string `json:"shell"`
}

// CacheConfig names the three cache generations. Each is versioned
// independently so bumping one does not invalidate the others.
type CacheConfig struct {
	ShellGeneration  string `json:"shell_generation"`
	APIGeneration    string `json:"api_generation"`
	HealthGeneration string `json:"health_generation"`
}

// Current returns the complete set of live generation identifiers.
// Activation evicts every generation not in this set.
func (c CacheConfig) Current() []string {
	return []string{c.ShellGeneration, c.APIGeneration, c.HealthGeneration}
}

// SyncConfig holds cron schedules for periodic deferred work.
type SyncConfig struct {
	QuestCheckSchedule string `json:"quest_check_schedule"`
	HealthSyncSchedule string `json:"health_sync_schedule"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".quest-tracker"),
		Server: ServerConfig{
			Host: "localhost",
			Port: 8970,
		},
		Upstream: "http://localhost:3000",
		Assets: AssetsConfig{
			Dir: "web",
			Shell: []string{
				"/",
				"/index.html",
				"/styles.css",
				"/app.js",
				"/manifest.json",
			},
		},
		Cache: CacheConfig{
			ShellGeneration:  "quest-tracker-shell-v2",
			APIGeneration:    "quest-tracker-api-v1",
			HealthGeneration: "quest-tracker-health-v1",
		},
		Sync: SyncConfig{
			QuestCheckSchedule: "0 9 * * *",   // daily quest check
			HealthSyncSchedule: "0 */6 * * *", // health-data resync
		},
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Override upstream from env if set
	if upstream := os.Getenv("QUEST_TRACKER_UPSTREAM"); upstream != "" {
		cfg.Upstream = upstream
	}

	return cfg, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
