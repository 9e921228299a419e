// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig is the full runtime configuration, including the LLM
// settings that can change while the server runs.
type AppConfig struct {
	Port              string `json:"port"`
	DataDir           string `json:"data_dir"`
	StaticDir         string `json:"static_dir"`
	TemplatesDir      string `json:"templates_dir"`
	StoryTemplatesDir string `json:"story_templates_dir"`
	LogDir            string `json:"log_dir"`
	DebugMode         bool   `json:"debug_mode"`

	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`
}

// Config holds the environment-derived base configuration.
type Config struct {
	Port              string
	DataDir           string
	StaticDir         string
	TemplatesDir      string
	StoryTemplatesDir string
	LogDir            string
	DebugMode         bool
	AnthropicAPIKey   string
	OpenRouterAPIKey  string
}

// Load reads configuration from the environment, with an optional
// .env file.
func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		Port:              getEnv("PORT", "8080"),
		DataDir:           getEnvPath("DATA_DIR", "data"),
		StaticDir:         getEnvPath("STATIC_DIR", "web/static"),
		TemplatesDir:      getEnvPath("TEMPLATES_DIR", "web/templates"),
		StoryTemplatesDir: getEnv("STORY_TEMPLATES_DIR", "data/templates"),
		LogDir:            getEnvPath("LOG_DIR", "logs"),
		DebugMode:         getEnvBool("DEBUG_MODE", true),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
	}

	if config.AnthropicAPIKey == "" && config.OpenRouterAPIKey == "" {
		log.Println("warning: no LLM API key set; generation stays disabled until configured via the settings API")
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath reads a directory path from the environment and creates
// the directory when missing.
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("warning: creating directory %s failed: %v\n", path, err)
		}
	}

	return path
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// InitConfig builds the runtime configuration: environment base, then
// any LLM settings previously saved to config.json under dataDir.
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	provider, apiKey := detectProvider(baseConfig)
	currentConfig = &AppConfig{
		Port:              baseConfig.Port,
		DataDir:           baseConfig.DataDir,
		StaticDir:         baseConfig.StaticDir,
		TemplatesDir:      baseConfig.TemplatesDir,
		StoryTemplatesDir: baseConfig.StoryTemplatesDir,
		LogDir:            baseConfig.LogDir,
		DebugMode:         baseConfig.DebugMode,
		LLMProvider:       provider,
		LLMConfig: map[string]string{
			"api_key":       apiKey,
			"default_model": defaultModelFor(provider),
		},
	}

	// Saved LLM settings win over the environment; base fields always
	// come from the environment.
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.StaticDir = baseConfig.StaticDir
				savedConfig.TemplatesDir = baseConfig.TemplatesDir
				savedConfig.StoryTemplatesDir = baseConfig.StoryTemplatesDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode

				savedConfig.LLMConfig = openSecrets(savedConfig.LLMConfig)
				if savedConfig.LLMConfig != nil && savedConfig.LLMConfig["api_key"] == "" {
					savedConfig.LLMConfig["api_key"] = envKeyFor(savedConfig.LLMProvider, baseConfig)
				}

				currentConfig = &savedConfig
			}
		}
	}

	return SaveConfig()
}

func detectProvider(base *Config) (string, string) {
	if base.AnthropicAPIKey == "" && base.OpenRouterAPIKey != "" {
		return "openrouter", base.OpenRouterAPIKey
	}
	return "anthropic", base.AnthropicAPIKey
}

func envKeyFor(provider string, base *Config) string {
	switch provider {
	case "openrouter":
		return base.OpenRouterAPIKey
	default:
		return base.AnthropicAPIKey
	}
}

func defaultModelFor(provider string) string {
	switch provider {
	case "openrouter":
		return "google/gemma-3-27b-it:free"
	default:
		return "claude-3.7-sonnet"
	}
}

// encryptedPrefix marks config values sealed with CONFIG_SECRET.
const encryptedPrefix = "enc:"

func isSecretField(key string) bool {
	lowered := strings.ToLower(key)
	return strings.Contains(lowered, "key") || strings.Contains(lowered, "secret") || strings.Contains(lowered, "token")
}

// sealSecrets encrypts credential values for storage. Without a
// CONFIG_SECRET in the environment the map passes through unchanged.
func sealSecrets(llmConfig map[string]string) map[string]string {
	secret := os.Getenv("CONFIG_SECRET")
	if secret == "" || llmConfig == nil {
		return llmConfig
	}

	sealed := make(map[string]string, len(llmConfig))
	for k, v := range llmConfig {
		if isSecretField(k) && v != "" && !strings.HasPrefix(v, encryptedPrefix) {
			ciphertext, err := utils.Encrypt(v, secret)
			if err != nil {
				log.Printf("warning: encrypting config value %s failed: %v", k, err)
				sealed[k] = v
				continue
			}
			sealed[k] = encryptedPrefix + ciphertext
			continue
		}
		sealed[k] = v
	}
	return sealed
}

// openSecrets decrypts values sealed by a previous save. A value that
// cannot be decrypted is blanked so the service reports "not
// configured" instead of sending garbage to a provider.
func openSecrets(llmConfig map[string]string) map[string]string {
	if llmConfig == nil {
		return nil
	}

	secret := os.Getenv("CONFIG_SECRET")
	opened := make(map[string]string, len(llmConfig))
	for k, v := range llmConfig {
		if !strings.HasPrefix(v, encryptedPrefix) {
			opened[k] = v
			continue
		}
		if secret == "" {
			log.Printf("warning: config value %s is encrypted but CONFIG_SECRET is not set", k)
			opened[k] = ""
			continue
		}
		plaintext, err := utils.Decrypt(strings.TrimPrefix(v, encryptedPrefix), secret)
		if err != nil {
			log.Printf("warning: decrypting config value %s failed: %v", k, err)
			opened[k] = ""
			continue
		}
		opened[k] = plaintext
	}
	return opened
}

// GetCurrentConfig returns a copy of the current configuration.
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		baseConfig, _ := Load()
		provider, apiKey := detectProvider(baseConfig)
		return &AppConfig{
			Port:              baseConfig.Port,
			DataDir:           baseConfig.DataDir,
			StaticDir:         baseConfig.StaticDir,
			TemplatesDir:      baseConfig.TemplatesDir,
			StoryTemplatesDir: baseConfig.StoryTemplatesDir,
			LogDir:            baseConfig.LogDir,
			DebugMode:         baseConfig.DebugMode,
			LLMProvider:       provider,
			LLMConfig:         map[string]string{"api_key": apiKey},
		}
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateLLMConfig swaps the active provider settings and persists them.
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("config not initialized")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return SaveConfig()
}

// SaveConfig writes the current configuration to config.json, sealing
// credential values when CONFIG_SECRET is set. Callers must hold
// configMutex.
func SaveConfig() error {
	if currentConfig == nil {
		return fmt.Errorf("no config to save")
	}

	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory failed: %w", err)
		}
	}

	toSave := *currentConfig
	toSave.LLMConfig = sealSecrets(toSave.LLMConfig)

	data, err := json.MarshalIndent(&toSave, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config failed: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
