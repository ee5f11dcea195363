package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	cfg, path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
  max_tokens: 4096
  temperature: 0.2
  ollama:
    host: http://ollama.internal:11434
    model: llama3.1
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
  collection: tenant-docs
server:
  api_key: sekrit
workflow:
  max_retries: 3
tenants:
  alice: tenant-a
  bob: tenant-b
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"OLLAMA_HOST", "OLLAMA_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"QUERYAGENT_API_KEY", "QUERYAGENT_MAX_RETRIES",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	cfg, loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}
	if cfg == nil {
		t.Fatal("expected parsed config, got nil")
	}

	checks := map[string]string{
		"MODEL_PROVIDER":         "ollama",
		"MODEL_MAX_TOKENS":       "4096",
		"MODEL_TEMPERATURE":      "0.2",
		"OLLAMA_HOST":            "http://ollama.internal:11434",
		"OLLAMA_MODEL":           "llama3.1",
		"EMBEDDING_PROVIDER":     "ollama",
		"EMBEDDING_MODEL":        "nomic-embed-text",
		"QDRANT_HOST":            "qdrant.internal",
		"QDRANT_PORT":            "6334",
		"QDRANT_COLLECTION":      "tenant-docs",
		"QUERYAGENT_API_KEY":     "sekrit",
		"QUERYAGENT_MAX_RETRIES": "3",
		"LOG_LEVEL":              "debug",
		"LOG_FORMAT":             "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}

	if len(cfg.Tenants) != 2 {
		t.Fatalf("tenants: got %d entries, want 2", len(cfg.Tenants))
	}
	if cfg.Tenants["alice"] != "tenant-a" {
		t.Errorf("tenants[alice]: got %q, want %q", cfg.Tenants["alice"], "tenant-a")
	}
	if cfg.Tenants["bob"] != "tenant-b" {
		t.Errorf("tenants[bob]: got %q, want %q", cfg.Tenants["bob"], "tenant-b")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
workflow:
  max_retries: 5
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env vars BEFORE loading — they should NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")
	t.Setenv("QUERYAGENT_MAX_RETRIES", "1")

	log := slog.Default()
	_, _, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
	if got := os.Getenv("QUERYAGENT_MAX_RETRIES"); got != "1" {
		t.Errorf("QUERYAGENT_MAX_RETRIES: expected env override %q, got %q", "1", got)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("model: [not: valid"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	if _, _, err := Load(cfgPath, log); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}
