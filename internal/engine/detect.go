package engine

import (
	"github.com/kalambet/daybook/internal/graph"
)

// Provider names accepted in configuration.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider      string
	OllamaBaseURL string
	OpenAIBaseURL string
	OpenAIAPIKey  string
}

// Detect returns the backend named by cfg.Provider. An empty provider means
// Ollama. A provider that cannot work with the given settings yields a
// *graph.FatalConfigurationError.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		if cfg.OllamaBaseURL == "" {
			return nil, &graph.FatalConfigurationError{Reason: "ollama.base_url is empty"}
		}
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, &graph.FatalConfigurationError{Reason: "ai.openai_api_key is not set"}
		}
		return NewOpenAIEngine(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey), nil
	default:
		return nil, &graph.FatalConfigurationError{Reason: "unknown ai.provider " + cfg.Provider}
	}
}
