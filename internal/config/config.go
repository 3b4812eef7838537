package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	AI        AIConfig
	Storage   StorageConfig
	Log       LogConfig
	Relevance RelevanceConfig
	Batch     BatchConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL         string
	ExtractionModel string
}

// AIConfig selects the backend that extracts entities and relationships.
type AIConfig struct {
	Provider      string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIAPIKey  string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type RelevanceConfig struct {
	DefaultLimit int
	HalfLifeDays float64
}

type BatchConfig struct {
	CallTimeout time.Duration
}

// ExtractionModel returns the model name for the configured provider.
func (c Config) ExtractionModel() string {
	if c.AI.Provider == "openai" {
		return c.AI.OpenAIModel
	}
	return c.Ollama.ExtractionModel
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:         "http://localhost:11434",
			ExtractionModel: "llama3.1:8b",
		},
		AI: AIConfig{
			Provider:      "ollama",
			OpenAIBaseURL: "https://api.openai.com/v1",
			OpenAIModel:   "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Relevance: RelevanceConfig{
			DefaultLimit: 5,
			HalfLifeDays: 14,
		},
		Batch: BatchConfig{
			CallTimeout: 60 * time.Second,
		},
	}
}

// Load reads configuration from a .env file in the working directory, the
// platform-native backend, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: app.daybook) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/daybook/config.json
// and secrets live in $XDG_DATA_HOME/daybook/secrets.json.
//
// Environment variables (DAYBOOK_*) override backend values on all platforms.
// Values from .env never override variables already set in the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.AI.OpenAIAPIKey == "" {
		if key, err := kc.Get(keychainService, "openai_api_key"); err == nil && key != "" {
			cfg.AI.OpenAIAPIKey = key
		}
	}

	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	switch cfg.AI.Provider {
	case "ollama", "openai":
	default:
		return Config{}, fmt.Errorf("invalid ai.provider %q: want ollama or openai", cfg.AI.Provider)
	}
	return cfg, nil
}
