package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains the daemon's listener configuration.
type API struct {
	Bind     string `toml:"bind"`
	Token    string `toml:"token"`
	GRPCBind string `toml:"grpc_bind"`
}

// LLM contains text-generation connection settings used for cleaning,
// summaries, and question answering.
type LLM struct {
	APIKey                string  `toml:"api_key"`
	BaseURL               string  `toml:"base_url"`
	Model                 string  `toml:"model"`
	Referer               string  `toml:"referer"`
	Title                 string  `toml:"title"`
	TimeoutSeconds        int     `toml:"timeout_seconds"`
	InputPricePerMillion  float64 `toml:"input_price_per_million"`
	OutputPricePerMillion float64 `toml:"output_price_per_million"`
}

// Embedding contains embedding endpoint settings.
type Embedding struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	BatchSize      int    `toml:"batch_size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ASR contains speech recognition and audio segmentation settings.
type ASR struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Concurrency    int    `toml:"concurrency"`
	// MaxSegmentSeconds is the provider's hard per-call duration ceiling.
	MaxSegmentSeconds int `toml:"max_segment_seconds"`
	// MinSegmentSeconds bounds how small a requested segment length may be.
	MinSegmentSeconds int `toml:"min_segment_seconds"`
	// SegmentSeconds is the requested segment length, clamped to the range above.
	SegmentSeconds          int    `toml:"segment_seconds"`
	BitrateKbps             int    `toml:"bitrate_kbps"`
	MaxUploadMB             int    `toml:"max_upload_mb"`
	FallbackDurationSeconds int    `toml:"fallback_duration_seconds"`
	FFprobeBinary           string `toml:"ffprobe_binary"`
	ProbeTimeoutSeconds     int    `toml:"probe_timeout_seconds"`
}

// Cleaning contains transcript cleaning strategy thresholds.
type Cleaning struct {
	// Method forces a strategy ("whole", "chunked", "smart", "integrity",
	// "boundary"); "auto" lets the selector decide.
	Method           string  `toml:"method"`
	WholeMaxChars    int     `toml:"whole_max_chars"`
	WholeMargin      float64 `toml:"whole_margin"`
	ChunkChars       int     `toml:"chunk_chars"`
	OverlapChars     int     `toml:"overlap_chars"`
	MaxInputChars    int     `toml:"max_input_chars"`
	MinOutputRatio   float64 `toml:"min_output_ratio"`
	IntegrityDefault bool    `toml:"integrity_default"`
}

// Summary contains structured summary settings.
type Summary struct {
	MaxInputChars int `toml:"max_input_chars"`
}

// Index contains vector index settings.
type Index struct {
	// Backend is "sqlite" or "postgres".
	Backend      string `toml:"backend"`
	DSN          string `toml:"dsn"`
	MaxConns     int    `toml:"max_conns"`
	SearchLimit  int    `toml:"search_limit"`
	WindowWords  int    `toml:"window_words"`
	OverlapWords int    `toml:"overlap_words"`
}

// Cache contains the two-tier cache settings.
type Cache struct {
	MemoryEntries        int    `toml:"memory_entries"`
	RedisAddr            string `toml:"redis_addr"`
	RedisPassword        string `toml:"redis_password"`
	RedisDB              int    `toml:"redis_db"`
	StatusTTLSeconds     int    `toml:"status_ttl_seconds"`
	ArtifactTTLSeconds   int    `toml:"artifact_ttl_seconds"`
	TranscriptTTLSeconds int    `toml:"transcript_ttl_seconds"`
}

// Workflow contains worker pool and timing configuration.
type Workflow struct {
	Workers             int    `toml:"workers"`
	QueuePollInterval   int    `toml:"queue_poll_interval"`
	ErrorRetryInterval  int    `toml:"error_retry_interval"`
	HeartbeatInterval   int    `toml:"heartbeat_interval"`
	HeartbeatTimeout    int    `toml:"heartbeat_timeout"`
	MaintenanceSchedule string `toml:"maintenance_schedule"`
	// UpstreamRetries is the number of extra attempts for transient upstream
	// failures. Zero disables retries; resubmission stays explicit.
	UpstreamRetries  int `toml:"upstream_retries"`
	RetryBaseDelayMS int `toml:"retry_base_delay_ms"`
	EventBuffer      int `toml:"event_buffer"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	TaskReady      bool   `toml:"task_ready"`
	TaskFailed     bool   `toml:"task_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format          string            `toml:"format"`
	Level           string            `toml:"level"`
	ComponentLevels map[string]string `toml:"component_levels"`
}

// Config encapsulates all configuration values for podscribe.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - API: HTTP and gRPC listeners plus the bearer token
//   - LLM: text generation used for cleaning, summaries, and answers
//   - Embedding: vector embeddings for transcript windows and questions
//   - ASR: speech recognition, duration probe, and segment limits
//   - Cleaning: strategy selection thresholds
//   - Summary: structured summary limits
//   - Index: vector index backend and retrieval settings
//   - Cache: in-process and Redis tiers
//   - Workflow: worker pool, polling, heartbeats, retry policy
//   - Notifications: ntfy push notification settings
//   - Logging: log format and levels
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	LLM           LLM           `toml:"llm"`
	Embedding     Embedding     `toml:"embedding"`
	ASR           ASR           `toml:"asr"`
	Cleaning      Cleaning      `toml:"cleaning"`
	Summary       Summary       `toml:"summary"`
	Index         Index         `toml:"index"`
	Cache         Cache         `toml:"cache"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("podscribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite path for the task queue.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// EpisodesDBPath returns the SQLite path for episode records and the access log.
func (c *Config) EpisodesDBPath() string {
	return filepath.Join(c.Paths.DataDir, "episodes.db")
}

// IndexDBPath returns the SQLite path used by the sqlite vector index backend.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.Paths.DataDir, "index.db")
}

// LockPath returns the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "podscribed.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the connection settings handed to the chat client.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the text-generation connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}

// GetEmbedding returns the embedding endpoint settings. The API key falls back
// to the [llm] key when the endpoints share a provider.
func (c *Config) GetEmbedding() LLMConfig {
	cfg := LLMConfig{
		APIKey:         strings.TrimSpace(c.Embedding.APIKey),
		BaseURL:        strings.TrimSpace(c.Embedding.BaseURL),
		Model:          strings.TrimSpace(c.Embedding.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.Embedding.TimeoutSeconds,
	}
	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(c.LLM.APIKey)
	}
	return cfg
}
