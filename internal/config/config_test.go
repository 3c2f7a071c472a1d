package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PALMTALK_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/palmtalk")
	t.Setenv("PALMTALK_PROVIDER", "")
	t.Setenv("PALMTALK_MODEL", "")
	t.Setenv("PALMTALK_TEMPERATURE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Temperature != 0.9 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.DiaryCronSpec == "" || cfg.MonthlyCronSpec == "" {
		t.Error("expected default cron specs")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("PALMTALK_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Error("expected error without DATABASE_URL")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("PALMTALK_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/palmtalk")
	t.Setenv("PALMTALK_PROVIDER", "claude")
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palmtalk.yaml")
	content := "provider: gemini\nmodel: gemini-2.0-flash\ndatabase_url: postgres://filehost/palmtalk\ntemperature: 0.5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PALMTALK_CONFIG", path)
	t.Setenv("DATABASE_URL", "postgres://envhost/palmtalk")
	t.Setenv("PALMTALK_PROVIDER", "")
	t.Setenv("PALMTALK_MODEL", "")
	t.Setenv("PALMTALK_TEMPERATURE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderGemini {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Temperature != 0.5 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.DatabaseURL != "postgres://envhost/palmtalk" {
		t.Errorf("DatabaseURL = %q, want env override", cfg.DatabaseURL)
	}
}

func TestModelConfigured(t *testing.T) {
	cfg := Config{Provider: ProviderOpenAI}
	if cfg.ModelConfigured() {
		t.Error("openai without key should not be configured")
	}
	cfg.APIKey = "sk-test"
	cfg.BaseURL = "https://api.example.com/v1"
	if !cfg.ModelConfigured() {
		t.Error("openai with key and base url should be configured")
	}
	gem := Config{Provider: ProviderGemini, GoogleAPIKey: "g-test"}
	if !gem.ModelConfigured() {
		t.Error("gemini with key should be configured")
	}
}
