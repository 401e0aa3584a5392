package config

import (
	"os"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	content := `
server:
  port: 9091
  host: "127.0.0.1"

database:
  host: "testdb"
  port: 5432
  user: "testuser"
  password: "testpass"
  dbname: "testdb"

ai:
  apiKey: "test-key"
  model: "test-model"
`

	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9091 {
		t.Errorf("Expected port 9091, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1, got %s", cfg.Server.Host)
	}

	if cfg.Database.Host != "testdb" {
		t.Errorf("Expected database host testdb, got %s", cfg.Database.Host)
	}

	if cfg.AI.Model != "test-model" {
		t.Errorf("Expected AI model test-model, got %s", cfg.AI.Model)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Plans.FreeMonthlyTokens != 100000 {
		t.Errorf("Expected free plan limit 100000, got %d", cfg.Plans.FreeMonthlyTokens)
	}

	if cfg.Plans.ProMonthlyTokens != 1000000 {
		t.Errorf("Expected pro plan limit 1000000, got %d", cfg.Plans.ProMonthlyTokens)
	}

	if cfg.AI.MaxOutputTokens != 1000 {
		t.Errorf("Expected max output tokens 1000, got %d", cfg.AI.MaxOutputTokens)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Plans: PlansConfig{FreeMonthlyTokens: 100, ProMonthlyTokens: 0},
		AI:    AIConfig{MaxOutputTokens: 1000},
	}

	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for non-positive pro plan limit")
	}
}
