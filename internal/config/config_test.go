package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if filepath.Base(cfg.DataDir) != ".quest-tracker" {
		t.Errorf("DataDir should end with .quest-tracker, got %q", filepath.Base(cfg.DataDir))
	}

	if cfg.Server.Port != 8970 {
		t.Errorf("Server.Port = %d, want 8970", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "localhost")
	}

	if cfg.Upstream != "http://localhost:3000" {
		t.Errorf("Upstream = %q, want http://localhost:3000", cfg.Upstream)
	}

	if len(cfg.Assets.Shell) == 0 {
		t.Error("shell asset list should not be empty")
	}
	if cfg.Assets.Shell[0] != "/" {
		t.Errorf("first shell asset = %q, want /", cfg.Assets.Shell[0])
	}

	if cfg.Sync.QuestCheckSchedule == "" || cfg.Sync.HealthSyncSchedule == "" {
		t.Error("sync schedules should have defaults")
	}
}

func TestCacheConfig_Current(t *testing.T) {
	cfg := Default()

	current := cfg.Cache.Current()
	if len(current) != 3 {
		t.Fatalf("Current() returned %d generations, want 3", len(current))
	}

	want := map[string]bool{
		cfg.Cache.ShellGeneration:  true,
		cfg.Cache.APIGeneration:    true,
		cfg.Cache.HealthGeneration: true,
	}
	for _, gen := range current {
		if !want[gen] {
			t.Errorf("unexpected generation %q in Current()", gen)
		}
	}
}

func TestCacheGenerations_IndependentlyVersioned(t *testing.T) {
	cfg := Default()

	// Bumping one generation identifier must not disturb the others.
	cfg.Cache.ShellGeneration = "quest-tracker-shell-v3"

	current := cfg.Cache.Current()
	found := map[string]bool{}
	for _, gen := range current {
		found[gen] = true
	}
	if !found["quest-tracker-shell-v3"] {
		t.Error("bumped shell generation missing from Current()")
	}
	if !found[cfg.Cache.APIGeneration] || !found[cfg.Cache.HealthGeneration] {
		t.Error("unrelated generations changed when shell was bumped")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/non/existent/path/config.json")

	if err != nil {
		t.Fatalf("Load() error = %v, want nil for non-existent file", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}
	if cfg.Server.Port != 8970 {
		t.Errorf("Server.Port = %d, want 8970 (default)", cfg.Server.Port)
	}
}

func TestLoad_ValidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	data := []byte(`{
		"data_dir": "` + tmpDir + `",
		"server": {"host": "0.0.0.0", "port": 9191},
		"upstream": "http://example.test:4000"
	}`)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Upstream != "http://example.test:4000" {
		t.Errorf("Upstream = %q", cfg.Upstream)
	}

	// Unspecified sections keep their defaults.
	if cfg.Cache.ShellGeneration == "" {
		t.Error("cache generations lost their defaults")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configPath, []byte("{broken"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should fail on malformed JSON")
	}
}

func TestLoad_UpstreamFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"upstream":"http://file.test"}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	os.Setenv("QUEST_TRACKER_UPSTREAM", "http://env.test")
	defer os.Unsetenv("QUEST_TRACKER_UPSTREAM")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream != "http://env.test" {
		t.Errorf("Upstream = %q, want env override", cfg.Upstream)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.DataDir = tmpDir
	cfg.Server.Port = 9999

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("round-tripped port = %d, want 9999", loaded.Server.Port)
	}
}
