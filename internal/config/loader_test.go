package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coursebot/internal/domain"
)

// =============================================================================
// Load
// =============================================================================

func TestLoad_WhenFileDoesNotExist_ShouldReturnError(t *testing.T) {
	_, err := Load("/nonexistent/coursebot.json")
	if err == nil {
		t.Fatal("expected error when config file does not exist")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped not-exist error, got %v", err)
	}
}

func TestLoad_WhenFileIsInvalidJSON_ShouldReturnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.json")
	if err := os.WriteFile(path, []byte(`{ invalid }`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when config is invalid JSON")
	}
}

func TestLoad_WhenFileIsValid_ShouldPopulateAllSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.json")
	cfg := `{
		"gateway": { "port": 3000, "authToken": "secret-gateway-token" },
		"model": {
			"provider": "anthropic",
			"name": "claude-sonnet-4-20250514",
			"apiKeyEnv": "MY_KEYS",
			"maxTokens": 1024,
			"maxToolRounds": 3,
			"parallelTools": 2,
			"fallbacks": [{ "provider": "local", "name": "offline" }]
		},
		"retrieval": {
			"databaseUrl": "libsql://courses.turso.io",
			"embeddingProvider": "ollama",
			"embeddingModel": "nomic-embed-text",
			"ollamaUrl": "http://localhost:11434",
			"maxResults": 8
		},
		"session": { "maxHistory": 4, "maxHistoryTokens": 2000, "historyDir": "data/../sessions/" },
		"infra": { "logFormat": "json", "logLevel": "debug" },
		"retry": { "maxRetries": 1, "initialBackoff": 100, "maxBackoff": 1000, "multiplier": 3 }
	}`
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Gateway.Port != 3000 || got.Gateway.AuthToken != "secret-gateway-token" {
		t.Errorf("gateway: %+v", got.Gateway)
	}
	if got.Model.Provider != "anthropic" || got.Model.APIKeyEnv != "MY_KEYS" || got.Model.MaxToolRounds != 3 || got.Model.ParallelTools != 2 {
		t.Errorf("model: %+v", got.Model)
	}
	if len(got.Model.Fallbacks) != 1 || got.Model.Fallbacks[0].Provider != "local" {
		t.Errorf("fallbacks: %+v", got.Model.Fallbacks)
	}
	if got.Retrieval.DatabaseURL != "libsql://courses.turso.io" || got.Retrieval.EmbeddingProvider != "ollama" || got.Retrieval.MaxResults != 8 {
		t.Errorf("retrieval: %+v", got.Retrieval)
	}
	if got.Session.MaxHistory != 4 || got.Session.MaxHistoryTokens != 2000 {
		t.Errorf("session: %+v", got.Session)
	}
	if got.Session.HistoryDir != "sessions" {
		t.Errorf("historyDir must be cleaned, got %q", got.Session.HistoryDir)
	}
	if got.Infra.LogFormat != "json" || got.Infra.LogLevel != "debug" {
		t.Errorf("infra: %+v", got.Infra)
	}
	if got.Retry.MaxRetries != 1 || got.Retry.Multiplier != 3 {
		t.Errorf("retry: %+v", got.Retry)
	}
}

func TestLoad_WhenSectionsOmitted_ShouldKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.json")
	if err := os.WriteFile(path, []byte(`{"gateway": {"port": 9001}}`), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Gateway.Port != 9001 {
		t.Errorf("port: want 9001, got %d", got.Gateway.Port)
	}
	if got.Model.MaxToolRounds != 2 || got.Session.MaxHistory != 2 || got.Retrieval.MaxResults != 5 {
		t.Errorf("defaults lost: model=%+v session=%+v retrieval=%+v", got.Model, got.Session, got.Retrieval)
	}
	if got.Session.HistoryDir != "" {
		t.Errorf("empty historyDir must stay empty, got %q", got.Session.HistoryDir)
	}
}

func TestLoad_WhenFileIsTOML_ShouldDecodeSameKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.toml")
	cfg := `
[gateway]
port = 9100
jwtSecretEnv = "COURSEBOT_JWT_SECRET"

[model]
provider = "anthropic"
maxToolRounds = 3

[[model.fallbacks]]
provider = "local"
name = "offline"

[retrieval]
databaseUrl = "file:data/alt.db"
`
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Gateway.Port != 9100 || got.Gateway.JWTSecretEnv != "COURSEBOT_JWT_SECRET" {
		t.Errorf("gateway: %+v", got.Gateway)
	}
	if got.Model.Provider != "anthropic" || got.Model.MaxToolRounds != 3 || len(got.Model.Fallbacks) != 1 {
		t.Errorf("model: %+v", got.Model)
	}
	if got.Retrieval.DatabaseURL != "file:data/alt.db" || got.Retrieval.MaxResults != 5 {
		t.Errorf("retrieval: %+v", got.Retrieval)
	}
}

func TestLoad_WhenTOMLInvalid_ShouldReturnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.toml")
	if err := os.WriteFile(path, []byte("[gateway\nport ="), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

// =============================================================================
// Path and defaults
// =============================================================================

func TestPath(t *testing.T) {
	if got := Path(func(string) string { return "" }); got != DefaultPath {
		t.Errorf("want %q, got %q", DefaultPath, got)
	}
	env := func(k string) string {
		if k == EnvPath {
			return "/etc/coursebot.json"
		}
		return ""
	}
	if got := Path(env); got != "/etc/coursebot.json" {
		t.Errorf("want env override, got %q", got)
	}
}

func TestWriteDefault_ShouldCreateValidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.json")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}
	if cfg.Gateway.Port != 8000 || cfg.Gateway.AuthToken != "" {
		t.Errorf("unexpected gateway default: %+v", cfg.Gateway)
	}
	if cfg.Model.Provider != "local" || cfg.Model.MaxTokens != 800 || cfg.Model.MaxToolRounds != 2 {
		t.Errorf("unexpected model default: %+v", cfg.Model)
	}
	if cfg.Retrieval.DatabaseURL != "file:data/courses.db" || cfg.Retrieval.EmbeddingProvider != "hash" {
		t.Errorf("unexpected retrieval default: %+v", cfg.Retrieval)
	}
}

func TestWriteDefault_WhenParentDirMissing_ShouldReturnWriteError(t *testing.T) {
	// WriteDefault does not create parent dirs
	path := filepath.Join(t.TempDir(), "nonexistent", "coursebot.json")
	if err := WriteDefault(path); err == nil {
		t.Fatal("WriteDefault to path with missing parent: expected error")
	}
}

func TestWriteDefault_WhenMarshalFails_ShouldReturnError(t *testing.T) {
	prev := marshalIndent
	defer func() { marshalIndent = prev }()
	marshalIndent = func(interface{}, string, string) ([]byte, error) {
		return nil, fmt.Errorf("injected marshal error")
	}
	err := WriteDefault(filepath.Join(t.TempDir(), "coursebot.json"))
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("marshal")) {
		t.Errorf("expected marshal error, got %v", err)
	}
}

// =============================================================================
// CleanPaths
// =============================================================================

func TestCleanPaths_WhenConfigIsNil_ShouldNotPanic(t *testing.T) {
	CleanPaths(nil)
}

func TestCleanPaths_WhenGivenPathWithTraversal_ShouldReturnCleanedPath(t *testing.T) {
	c := &domain.Config{Session: domain.SessionConfig{HistoryDir: filepath.Join("foo", "..", "bar", ".", "logs")}}
	CleanPaths(c)
	if c.Session.HistoryDir != filepath.Join("bar", "logs") {
		t.Errorf("expected cleaned 'bar/logs', got %q", c.Session.HistoryDir)
	}
}

// =============================================================================
// Save
// =============================================================================

func TestSave_WhenConfigNil_ShouldReturnError(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "coursebot.json"), nil)
	if err == nil {
		t.Fatal("Save(nil) should return error")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("nil")) {
		t.Errorf("error should mention nil: %v", err)
	}
}

func TestSave_WhenDirReadOnly_ShouldReturnError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	sub := filepath.Join(t.TempDir(), "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(sub, 0555); err != nil {
		t.Skip("chmod 0555 not supported")
	}
	defer os.Chmod(sub, 0755)
	err := Save(filepath.Join(sub, "cfg.json"), Default())
	if err == nil {
		t.Fatal("Save to read-only dir should fail")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("write")) {
		t.Errorf("error should mention write: %v", err)
	}
}

func TestSave_WhenConfigValid_ShouldPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "coursebot.json")
	cfg := Default()
	cfg.Gateway.Port = 9000
	cfg.Model.Provider = "anthropic"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Gateway.Port != 9000 || loaded.Model.Provider != "anthropic" {
		t.Errorf("loaded: port=%d provider=%s", loaded.Gateway.Port, loaded.Model.Provider)
	}
}

func TestSave_WhenParentDirIsFile_ShouldReturnMkdirError(t *testing.T) {
	fileAsParent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(fileAsParent, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	err := Save(filepath.Join(fileAsParent, "coursebot.json"), Default())
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("mkdir")) {
		t.Errorf("expected mkdir error, got %v", err)
	}
}

func TestSave_WhenMarshalFails_ShouldReturnError(t *testing.T) {
	prev := marshalIndent
	defer func() { marshalIndent = prev }()
	marshalIndent = func(interface{}, string, string) ([]byte, error) {
		return nil, fmt.Errorf("injected marshal error")
	}
	err := Save(filepath.Join(t.TempDir(), "coursebot.json"), Default())
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("marshal")) {
		t.Errorf("expected marshal error, got %v", err)
	}
}

func TestSave_WhenWriteFileFails_ShouldReturnError(t *testing.T) {
	prev := writeFile
	defer func() { writeFile = prev }()
	writeFile = func(string, []byte, os.FileMode) error {
		return fmt.Errorf("injected write error")
	}
	err := Save(filepath.Join(t.TempDir(), "coursebot.json"), Default())
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("write")) {
		t.Errorf("expected write error, got %v", err)
	}
}
