package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"coursebot/internal/domain"
)

// DefaultPath is the config file used when EnvPath is unset.
const DefaultPath = "coursebot.json"

// EnvPath names the environment variable that overrides DefaultPath.
const EnvPath = "COURSEBOT_CONFIG"

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

// Path returns the config path from getenv(EnvPath), or DefaultPath.
func Path(getenv func(string) string) string {
	if p := getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Default returns the configuration written by WriteDefault. It runs fully
// offline: local model, hash embeddings and a SQLite file under data/.
func Default() *domain.Config {
	return &domain.Config{
		Gateway: domain.GatewayConfig{Port: 8000},
		Model: domain.ModelConfig{
			Provider:      "local",
			Name:          "claude-sonnet-4-20250514",
			APIKeyEnv:     "ANTHROPIC_API_KEY",
			MaxTokens:     800,
			MaxToolRounds: 2,
			TimeoutSecs:   60,
		},
		Retrieval: domain.RetrievalConfig{
			DatabaseURL:       "file:data/courses.db",
			EmbeddingProvider: "hash",
			EmbeddingModel:    "nomic-embed-text",
			MaxResults:        5,
		},
		Session: domain.SessionConfig{MaxHistory: 2},
		Infra:   domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
		Retry: domain.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 500,
			MaxBackoff:     30000,
			Multiplier:     2,
		},
	}
}

// WriteDefault writes Default() to path (e.g. coursebot.json). Parent directories are not created.
func WriteDefault(path string) error {
	data, err := marshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path, unmarshals it over Default() so omitted sections keep
// their defaults, and cleans path fields. Files ending in .toml are read as
// TOML with the same keys, anything else as JSON. Returns an error if the
// file is missing or cannot be parsed.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	c := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	CleanPaths(c)
	return c, nil
}

// CleanPaths applies filepath.Clean to path fields in cfg. Empty paths stay
// empty so features they enable remain off.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	if cfg.Session.HistoryDir != "" {
		cfg.Session.HistoryDir = filepath.Clean(cfg.Session.HistoryDir)
	}
}

// Save writes cfg to path as JSON, creating the parent directory.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
