package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"podscribe/internal/services"
)

// Validate ensures the configuration is usable. Provider credentials are
// checked separately by ValidateCredentials so CLI commands that never reach
// a provider keep working without keys.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateSegments(); err != nil {
		return err
	}
	if err := c.validateCleaning(); err != nil {
		return err
	}
	if err := c.validateIndex(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// ValidateCredentials reports missing provider credentials as configuration
// errors before any work is accepted.
func (c *Config) ValidateCredentials() error {
	hint := "edit the config file (create with 'podscribe config init')"
	if path, err := DefaultConfigPath(); err == nil {
		hint = fmt.Sprintf("edit %s (create with 'podscribe config init')", path)
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return services.Wrap(services.ErrConfiguration, "config", "validate credentials",
			"llm.api_key is required. Set OPENROUTER_API_KEY or "+hint, nil)
	}
	if strings.TrimSpace(c.ASR.APIKey) == "" {
		return services.Wrap(services.ErrConfiguration, "config", "validate credentials",
			"asr.api_key is required. Set PODSCRIBE_ASR_API_KEY or "+hint, nil)
	}
	if strings.TrimSpace(c.GetEmbedding().APIKey) == "" {
		return services.Wrap(services.ErrConfiguration, "config", "validate credentials",
			"embedding.api_key is required. Set OPENAI_API_KEY or "+hint, nil)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"asr.concurrency":               c.ASR.Concurrency,
		"summary.max_input_chars":       c.Summary.MaxInputChars,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.UpstreamRetries < 0 {
		return errors.New("workflow.upstream_retries must be >= 0")
	}
	if c.Workflow.RetryBaseDelayMS < 0 {
		return errors.New("workflow.retry_base_delay_ms must be >= 0")
	}
	if schedule := strings.TrimSpace(c.Workflow.MaintenanceSchedule); schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("workflow.maintenance_schedule %q: %w", schedule, err)
		}
	}
	return nil
}

func (c *Config) validateSegments() error {
	if err := ensurePositiveMap(map[string]int{
		"asr.max_segment_seconds":       c.ASR.MaxSegmentSeconds,
		"asr.min_segment_seconds":       c.ASR.MinSegmentSeconds,
		"asr.segment_seconds":           c.ASR.SegmentSeconds,
		"asr.bitrate_kbps":              c.ASR.BitrateKbps,
		"asr.max_upload_mb":             c.ASR.MaxUploadMB,
		"asr.fallback_duration_seconds": c.ASR.FallbackDurationSeconds,
	}); err != nil {
		return err
	}
	if c.ASR.MinSegmentSeconds > c.ASR.MaxSegmentSeconds {
		return errors.New("asr.min_segment_seconds must not exceed asr.max_segment_seconds")
	}
	return nil
}

func (c *Config) validateCleaning() error {
	switch c.Cleaning.Method {
	case "auto", "whole", "chunked", "smart", "integrity", "boundary":
	default:
		return fmt.Errorf("cleaning.method %q is not recognized", c.Cleaning.Method)
	}
	if err := ensurePositiveMap(map[string]int{
		"cleaning.whole_max_chars": c.Cleaning.WholeMaxChars,
		"cleaning.chunk_chars":     c.Cleaning.ChunkChars,
		"cleaning.max_input_chars": c.Cleaning.MaxInputChars,
	}); err != nil {
		return err
	}
	if c.Cleaning.OverlapChars < 0 || c.Cleaning.OverlapChars >= c.Cleaning.ChunkChars {
		return errors.New("cleaning.overlap_chars must be >= 0 and smaller than cleaning.chunk_chars")
	}
	if c.Cleaning.WholeMargin < 0 || c.Cleaning.WholeMargin >= 1 {
		return errors.New("cleaning.whole_margin must be between 0 and 1")
	}
	if c.Cleaning.MinOutputRatio < 0 || c.Cleaning.MinOutputRatio > 1 {
		return errors.New("cleaning.min_output_ratio must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateIndex() error {
	switch c.Index.Backend {
	case "sqlite":
	case "postgres":
		if c.Index.DSN == "" {
			return errors.New("index.dsn must be set when index.backend is postgres (or set DATABASE_URL)")
		}
		if c.Index.MaxConns <= 0 {
			return errors.New("index.max_conns must be positive")
		}
		if c.Embedding.Dimensions <= 0 {
			return errors.New("embedding.dimensions must be positive when index.backend is postgres")
		}
	default:
		return fmt.Errorf("index.backend %q is not recognized (expected sqlite or postgres)", c.Index.Backend)
	}
	if err := ensurePositiveMap(map[string]int{
		"index.search_limit": c.Index.SearchLimit,
		"index.window_words": c.Index.WindowWords,
	}); err != nil {
		return err
	}
	if c.Index.OverlapWords < 0 || c.Index.OverlapWords >= c.Index.WindowWords {
		return errors.New("index.overlap_words must be >= 0 and smaller than index.window_words")
	}
	return nil
}

func (c *Config) validateCache() error {
	return ensurePositiveMap(map[string]int{
		"cache.memory_entries":         c.Cache.MemoryEntries,
		"cache.status_ttl_seconds":     c.Cache.StatusTTLSeconds,
		"cache.artifact_ttl_seconds":   c.Cache.ArtifactTTLSeconds,
		"cache.transcript_ttl_seconds": c.Cache.TranscriptTTLSeconds,
	})
}

func (c *Config) validateLogging() error {
	for component, level := range c.Logging.ComponentLevels {
		switch level {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("logging.component_levels.%s: unknown level %q", component, level)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
