package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DAYBOOK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DAYBOOK_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.extraction_model", typ: kString, env: "DAYBOOK_OLLAMA_EXTRACTION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ExtractionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ExtractionModel },
	},
	{
		key: "ai.provider", typ: kString, env: "DAYBOOK_AI_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.AI.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Provider },
	},
	{
		key: "ai.openai_base_url", typ: kString, env: "DAYBOOK_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.AI.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.OpenAIBaseURL },
	},
	{
		key: "ai.openai_model", typ: kString, env: "DAYBOOK_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.OpenAIModel = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.OpenAIModel },
	},
	{
		key: "ai.openai_api_key", typ: kString, env: "DAYBOOK_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AI.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.OpenAIAPIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DAYBOOK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DAYBOOK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "relevance.default_limit", typ: kInt, env: "DAYBOOK_RELEVANCE_DEFAULT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Relevance.DefaultLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Relevance.DefaultLimit },
	},
	{
		key: "relevance.half_life_days", typ: kFloat, env: "DAYBOOK_RELEVANCE_HALF_LIFE_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Relevance.HalfLifeDays = v.(float64) },
		extract: func(cfg Config) any { return cfg.Relevance.HalfLifeDays },
	},
	{
		key: "batch.call_timeout", typ: kDuration, env: "DAYBOOK_BATCH_CALL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Batch.CallTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Batch.CallTimeout },
	},
}

// parse converts a raw string to the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
