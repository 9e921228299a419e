// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupConfigEnv(t *testing.T) string {
	t.Helper()

	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(tempDir, "logs"))
	t.Setenv("STATIC_DIR", filepath.Join(tempDir, "web", "static"))
	t.Setenv("TEMPLATES_DIR", filepath.Join(tempDir, "web", "templates"))
	t.Setenv("STORY_TEMPLATES_DIR", filepath.Join(tempDir, "data", "templates"))
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	return filepath.Join(tempDir, "data")
}

func TestConfigSecretsSealedAtRest(t *testing.T) {
	dataDir := setupConfigEnv(t)
	t.Setenv("CONFIG_SECRET", "unit test passphrase")

	if err := InitConfig(dataDir); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := UpdateLLMConfig("anthropic", map[string]string{
		"api_key":       "sk-test-secret-123",
		"default_model": "claude-3.7-sonnet",
	}); err != nil {
		t.Fatalf("UpdateLLMConfig: %v", err)
	}

	// The file on disk must not contain the plaintext key.
	raw, err := os.ReadFile(filepath.Join(dataDir, "config.json"))
	if err != nil {
		t.Fatalf("reading config.json: %v", err)
	}
	if strings.Contains(string(raw), "sk-test-secret-123") {
		t.Fatal("config.json stores the api key in plaintext")
	}
	if !strings.Contains(string(raw), `"api_key": "enc:`) {
		t.Fatalf("config.json missing sealed api_key:\n%s", raw)
	}
	// The model name is not a credential and stays readable.
	if !strings.Contains(string(raw), "claude-3.7-sonnet") {
		t.Error("default_model should not be sealed")
	}

	// A fresh load opens the sealed value back to plaintext.
	if err := InitConfig(dataDir); err != nil {
		t.Fatalf("second InitConfig: %v", err)
	}
	cfg := GetCurrentConfig()
	if cfg.LLMConfig["api_key"] != "sk-test-secret-123" {
		t.Errorf("reloaded api_key = %q", cfg.LLMConfig["api_key"])
	}
}

func TestConfigSecretsPlaintextWithoutSecret(t *testing.T) {
	dataDir := setupConfigEnv(t)
	t.Setenv("CONFIG_SECRET", "")

	if err := InitConfig(dataDir); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := UpdateLLMConfig("openrouter", map[string]string{"api_key": "sk-plain"}); err != nil {
		t.Fatalf("UpdateLLMConfig: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dataDir, "config.json"))
	if err != nil {
		t.Fatalf("reading config.json: %v", err)
	}
	if !strings.Contains(string(raw), "sk-plain") {
		t.Error("without CONFIG_SECRET the key should persist as-is")
	}
	if strings.Contains(string(raw), "enc:") {
		t.Error("without CONFIG_SECRET nothing should be sealed")
	}
}

func TestConfigSealedValueWithoutSecretIsBlanked(t *testing.T) {
	dataDir := setupConfigEnv(t)

	// Seal a key, then reload without the passphrase.
	t.Setenv("CONFIG_SECRET", "the passphrase")
	if err := InitConfig(dataDir); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := UpdateLLMConfig("anthropic", map[string]string{"api_key": "sk-sealed"}); err != nil {
		t.Fatalf("UpdateLLMConfig: %v", err)
	}

	t.Setenv("CONFIG_SECRET", "")
	if err := InitConfig(dataDir); err != nil {
		t.Fatalf("reload InitConfig: %v", err)
	}
	if got := GetCurrentConfig().LLMConfig["api_key"]; got != "" {
		t.Errorf("undecryptable api_key should be blanked, got %q", got)
	}
}
