package config

const (
	defaultConfigPath              = "~/.config/podscribe/config.toml"
	defaultDataDir                 = "~/.local/share/podscribe"
	defaultLogDir                  = "~/.local/share/podscribe/logs"
	defaultAPIBind                 = "127.0.0.1:7690"
	defaultLLMBaseURL              = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                = "google/gemini-2.5-flash"
	defaultLLMReferer              = "https://github.com/podscribe/podscribe"
	defaultLLMTitle                = "podscribe"
	defaultLLMTimeoutSeconds       = 120
	defaultEmbeddingBaseURL        = "https://api.openai.com/v1/embeddings"
	defaultEmbeddingModel          = "text-embedding-3-small"
	defaultEmbeddingDimensions     = 1536
	defaultEmbeddingBatchSize      = 64
	defaultEmbeddingTimeoutSeconds = 60
	defaultASRBaseURL              = "https://api.deepinfra.com/v1/transcribe"
	defaultASRModel                = "whisper-large-v3"
	defaultASRTimeoutSeconds       = 600
	defaultASRConcurrency          = 4
	defaultASRMaxSegmentSeconds    = 1500
	defaultASRMinSegmentSeconds    = 60
	defaultASRSegmentSeconds       = 1200
	defaultASRBitrateKbps          = 128
	defaultASRMaxUploadMB          = 25
	defaultFallbackDurationSeconds = 3600
	defaultFFprobeBinary           = "ffprobe"
	defaultProbeTimeoutSeconds     = 30
	defaultCleaningMethod          = "auto"
	defaultWholeMaxChars           = 24000
	defaultWholeMargin             = 0.15
	defaultChunkChars              = 8000
	defaultOverlapChars            = 400
	defaultMaxInputChars           = 2000000
	defaultMinOutputRatio          = 0.6
	defaultSummaryMaxInputChars    = 60000
	defaultIndexBackend            = "sqlite"
	defaultIndexMaxConns           = 4
	defaultSearchLimit             = 5
	defaultWindowWords             = 180
	defaultOverlapWords            = 30
	defaultMemoryEntries           = 512
	defaultStatusTTLSeconds        = 120
	defaultArtifactTTLSeconds      = 30 * 24 * 3600
	defaultTranscriptTTLSeconds    = 30 * 24 * 3600
	defaultWorkers                 = 2
	defaultQueuePollInterval       = 5
	defaultErrorRetryInterval      = 10
	defaultHeartbeatInterval       = 15
	defaultHeartbeatTimeout        = 180
	defaultMaintenanceSchedule     = "@every 1m"
	defaultRetryBaseDelayMS        = 1000
	defaultEventBuffer             = 256
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Embedding: Embedding{
			BaseURL:        defaultEmbeddingBaseURL,
			Model:          defaultEmbeddingModel,
			Dimensions:     defaultEmbeddingDimensions,
			BatchSize:      defaultEmbeddingBatchSize,
			TimeoutSeconds: defaultEmbeddingTimeoutSeconds,
		},
		ASR: ASR{
			BaseURL:                 defaultASRBaseURL,
			Model:                   defaultASRModel,
			TimeoutSeconds:          defaultASRTimeoutSeconds,
			Concurrency:             defaultASRConcurrency,
			MaxSegmentSeconds:       defaultASRMaxSegmentSeconds,
			MinSegmentSeconds:       defaultASRMinSegmentSeconds,
			SegmentSeconds:          defaultASRSegmentSeconds,
			BitrateKbps:             defaultASRBitrateKbps,
			MaxUploadMB:             defaultASRMaxUploadMB,
			FallbackDurationSeconds: defaultFallbackDurationSeconds,
			FFprobeBinary:           defaultFFprobeBinary,
			ProbeTimeoutSeconds:     defaultProbeTimeoutSeconds,
		},
		Cleaning: Cleaning{
			Method:         defaultCleaningMethod,
			WholeMaxChars:  defaultWholeMaxChars,
			WholeMargin:    defaultWholeMargin,
			ChunkChars:     defaultChunkChars,
			OverlapChars:   defaultOverlapChars,
			MaxInputChars:  defaultMaxInputChars,
			MinOutputRatio: defaultMinOutputRatio,
		},
		Summary: Summary{
			MaxInputChars: defaultSummaryMaxInputChars,
		},
		Index: Index{
			Backend:      defaultIndexBackend,
			MaxConns:     defaultIndexMaxConns,
			SearchLimit:  defaultSearchLimit,
			WindowWords:  defaultWindowWords,
			OverlapWords: defaultOverlapWords,
		},
		Cache: Cache{
			MemoryEntries:        defaultMemoryEntries,
			StatusTTLSeconds:     defaultStatusTTLSeconds,
			ArtifactTTLSeconds:   defaultArtifactTTLSeconds,
			TranscriptTTLSeconds: defaultTranscriptTTLSeconds,
		},
		Workflow: Workflow{
			Workers:             defaultWorkers,
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			MaintenanceSchedule: defaultMaintenanceSchedule,
			RetryBaseDelayMS:    defaultRetryBaseDelayMS,
			EventBuffer:         defaultEventBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			TaskReady:      true,
			TaskFailed:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
