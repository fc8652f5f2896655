package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLLM()
	c.normalizeEmbedding()
	c.normalizeASR()
	c.normalizeCleaning()
	c.normalizeIndex()
	c.normalizeCache()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.GRPCBind = strings.TrimSpace(c.API.GRPCBind)
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		c.API.Token = lookupEnv("PODSCRIBE_API_TOKEN")
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = lookupEnv("PODSCRIBE_LLM_API_KEY", "OPENROUTER_API_KEY")
	}
	c.LLM.BaseURL = orDefault(c.LLM.BaseURL, defaultLLMBaseURL)
	c.LLM.Model = orDefault(c.LLM.Model, defaultLLMModel)
	c.LLM.Referer = orDefault(c.LLM.Referer, defaultLLMReferer)
	c.LLM.Title = orDefault(c.LLM.Title, defaultLLMTitle)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeEmbedding() {
	c.Embedding.APIKey = strings.TrimSpace(c.Embedding.APIKey)
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = lookupEnv("PODSCRIBE_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	}
	c.Embedding.BaseURL = orDefault(c.Embedding.BaseURL, defaultEmbeddingBaseURL)
	c.Embedding.Model = orDefault(c.Embedding.Model, defaultEmbeddingModel)
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = defaultEmbeddingBatchSize
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		c.Embedding.TimeoutSeconds = defaultEmbeddingTimeoutSeconds
	}
}

func (c *Config) normalizeASR() {
	c.ASR.APIKey = strings.TrimSpace(c.ASR.APIKey)
	if c.ASR.APIKey == "" {
		c.ASR.APIKey = lookupEnv("PODSCRIBE_ASR_API_KEY")
	}
	c.ASR.BaseURL = orDefault(c.ASR.BaseURL, defaultASRBaseURL)
	c.ASR.Model = orDefault(c.ASR.Model, defaultASRModel)
	c.ASR.FFprobeBinary = orDefault(c.ASR.FFprobeBinary, defaultFFprobeBinary)
	if c.ASR.TimeoutSeconds <= 0 {
		c.ASR.TimeoutSeconds = defaultASRTimeoutSeconds
	}
	if c.ASR.ProbeTimeoutSeconds <= 0 {
		c.ASR.ProbeTimeoutSeconds = defaultProbeTimeoutSeconds
	}
}

func (c *Config) normalizeCleaning() {
	c.Cleaning.Method = strings.ToLower(strings.TrimSpace(c.Cleaning.Method))
	if c.Cleaning.Method == "" {
		c.Cleaning.Method = defaultCleaningMethod
	}
}

func (c *Config) normalizeIndex() {
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	if c.Index.Backend == "" {
		c.Index.Backend = defaultIndexBackend
	}
	c.Index.DSN = strings.TrimSpace(c.Index.DSN)
	if c.Index.DSN == "" {
		c.Index.DSN = lookupEnv("PODSCRIBE_PG_DSN", "DATABASE_URL")
	}
}

func (c *Config) normalizeCache() {
	c.Cache.RedisAddr = strings.TrimSpace(c.Cache.RedisAddr)
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = lookupEnv("PODSCRIBE_REDIS_ADDR")
	}
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.MaintenanceSchedule = strings.TrimSpace(c.Workflow.MaintenanceSchedule)
	if c.Workflow.MaintenanceSchedule == "" {
		c.Workflow.MaintenanceSchedule = defaultMaintenanceSchedule
	}
	if c.Workflow.EventBuffer <= 0 {
		c.Workflow.EventBuffer = defaultEventBuffer
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.ComponentLevels) > 0 {
		normalized := make(map[string]string, len(c.Logging.ComponentLevels))
		for component, level := range c.Logging.ComponentLevels {
			key := strings.ToLower(strings.TrimSpace(component))
			if key == "" {
				continue
			}
			normalized[key] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.ComponentLevels = normalized
	}
}

func orDefault(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

func lookupEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
