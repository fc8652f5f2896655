package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"podscribe/internal/config"
	"podscribe/internal/services"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PODSCRIBE_LLM_API_KEY", "OPENROUTER_API_KEY",
		"PODSCRIBE_EMBEDDING_API_KEY", "OPENAI_API_KEY",
		"PODSCRIBE_ASR_API_KEY", "PODSCRIBE_API_TOKEN",
		"PODSCRIBE_REDIS_ADDR", "PODSCRIBE_PG_DSN", "DATABASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearProviderEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "podscribe")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.QueueDBPath() != filepath.Join(wantData, "queue.db") {
		t.Fatalf("unexpected queue db path: %q", cfg.QueueDBPath())
	}
	if cfg.API.Bind != "127.0.0.1:7690" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Index.Backend != "sqlite" {
		t.Fatalf("expected sqlite index backend by default, got %q", cfg.Index.Backend)
	}
	if cfg.Workflow.UpstreamRetries != 0 {
		t.Fatalf("expected retries disabled by default, got %d", cfg.Workflow.UpstreamRetries)
	}
	if cfg.Cleaning.Method != "auto" {
		t.Fatalf("expected auto cleaning method, got %q", cfg.Cleaning.Method)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearProviderEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "podscribe.toml")

	type payload struct {
		LLM struct {
			APIKey string `toml:"api_key"`
			Model  string `toml:"model"`
		} `toml:"llm"`
		Workflow struct {
			Workers           int `toml:"workers"`
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
			UpstreamRetries   int `toml:"upstream_retries"`
		} `toml:"workflow"`
		Logging struct {
			Format          string            `toml:"format"`
			ComponentLevels map[string]string `toml:"component_levels"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.LLM.APIKey = "abc123"
	custom.LLM.Model = "  custom/model  "
	custom.Workflow.Workers = 3
	custom.Workflow.HeartbeatInterval = 20
	custom.Workflow.HeartbeatTimeout = 200
	custom.Workflow.UpstreamRetries = 2
	custom.Logging.Format = "JSON"
	custom.Logging.ComponentLevels = map[string]string{" Cleaning ": "DEBUG"}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.LLM.APIKey != "abc123" {
		t.Fatalf("expected llm key from file, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "custom/model" {
		t.Fatalf("expected trimmed model, got %q", cfg.LLM.Model)
	}
	if cfg.Workflow.Workers != 3 || cfg.Workflow.UpstreamRetries != 2 {
		t.Fatalf("unexpected workflow values: %+v", cfg.Workflow)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.ComponentLevels["cleaning"] != "debug" {
		t.Fatalf("expected normalized component level, got %v", cfg.Logging.ComponentLevels)
	}
	// Embedding shares the llm key when no dedicated key is configured.
	if cfg.GetEmbedding().APIKey != "abc123" {
		t.Fatalf("expected embedding key fallback, got %q", cfg.GetEmbedding().APIKey)
	}
}

func TestEnvFallbacksForCredentials(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENROUTER_API_KEY", "router-key")
	t.Setenv("PODSCRIBE_ASR_API_KEY", "asr-key")
	t.Setenv("OPENAI_API_KEY", "embed-key")
	t.Setenv("DATABASE_URL", "postgres://localhost/podscribe")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "router-key" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.ASR.APIKey != "asr-key" {
		t.Fatalf("expected asr key from env, got %q", cfg.ASR.APIKey)
	}
	if cfg.Embedding.APIKey != "embed-key" {
		t.Fatalf("expected embedding key from env, got %q", cfg.Embedding.APIKey)
	}
	if cfg.Index.DSN != "postgres://localhost/podscribe" {
		t.Fatalf("expected dsn from env, got %q", cfg.Index.DSN)
	}
	if err := cfg.ValidateCredentials(); err != nil {
		t.Fatalf("expected credentials to validate, got %v", err)
	}
}

func TestValidateCredentialsReportsConfigurationError(t *testing.T) {
	cfg := config.Default()
	cfg.ASR.APIKey = "asr"
	err := cfg.ValidateCredentials()
	if err == nil {
		t.Fatal("expected missing llm key to fail")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("expected error to name llm.api_key, got %v", err)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_openrouter_api_key_here") {
		t.Fatalf("sample config missing placeholder key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "podscribe") {
		t.Fatalf("expected data dir to contain podscribe, got %q", cfg.Paths.DataDir)
	}
	if cfg.Cleaning.ChunkChars != 8000 {
		t.Fatalf("unexpected chunk chars: %d", cfg.Cleaning.ChunkChars)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Workflow.Workers = 0 }},
		{"zero heartbeat interval", func(c *config.Config) { c.Workflow.HeartbeatInterval = 0 }},
		{"timeout not above interval", func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval }},
		{"negative retries", func(c *config.Config) { c.Workflow.UpstreamRetries = -1 }},
		{"bad maintenance schedule", func(c *config.Config) { c.Workflow.MaintenanceSchedule = "every so often" }},
		{"min above max segment", func(c *config.Config) { c.ASR.MinSegmentSeconds = c.ASR.MaxSegmentSeconds + 1 }},
		{"unknown cleaning method", func(c *config.Config) { c.Cleaning.Method = "magic" }},
		{"overlap not below chunk", func(c *config.Config) { c.Cleaning.OverlapChars = c.Cleaning.ChunkChars }},
		{"margin out of range", func(c *config.Config) { c.Cleaning.WholeMargin = 1.5 }},
		{"postgres without dsn", func(c *config.Config) { c.Index.Backend = "postgres" }},
		{"unknown index backend", func(c *config.Config) { c.Index.Backend = "faiss" }},
		{"overlap words not below window", func(c *config.Config) { c.Index.OverlapWords = c.Index.WindowWords }},
		{"zero memory entries", func(c *config.Config) { c.Cache.MemoryEntries = 0 }},
		{"bad component level", func(c *config.Config) { c.Logging.ComponentLevels = map[string]string{"cache": "loud"} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
