package config

import (
	"fmt"
	"os"
	"strconv"
)

// ConfigurationError indicates a missing or invalid required setting.
// It is fatal at startup: no turn processing happens with a bad config.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Config holds the agent configuration, sourced from the environment.
type Config struct {
	OpenAIAPIKey string
	Model        string
	Temperature  float64

	DataDir      string
	ChunkSize    int
	ChunkOverlap int
	ShortTermMax int
}

// Load reads configuration from environment variables and validates it.
// Invalid values fail startup rather than silently defaulting.
func Load() (*Config, error) {
	cfg := &Config{
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		Model:        envOr("OPENAI_MODEL", "gpt-4o"),
		DataDir:      DataDir(),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, &ConfigurationError{Key: "OPENAI_API_KEY", Reason: "not set"}
	}
	if cfg.Model == "" {
		return nil, &ConfigurationError{Key: "OPENAI_MODEL", Reason: "empty"}
	}

	var err error
	if cfg.Temperature, err = envFloat("OPENAI_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, &ConfigurationError{Key: "OPENAI_TEMPERATURE", Reason: "must be in [0, 2]"}
	}

	if cfg.ChunkSize, err = envPositiveInt("MEMORY_CHUNK_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = envPositiveInt("MEMORY_CHUNK_OVERLAP", 200); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, &ConfigurationError{Key: "MEMORY_CHUNK_OVERLAP", Reason: "must be smaller than MEMORY_CHUNK_SIZE"}
	}

	if cfg.ShortTermMax, err = envPositiveInt("SHORT_TERM_MAX", 10); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: "not a number"}
	}
	return f, nil
}

func envPositiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: "not an integer"}
	}
	if n <= 0 {
		return 0, &ConfigurationError{Key: key, Reason: "must be positive"}
	}
	return n, nil
}
