// Package usage tracks metered upstream consumption for a single pipeline run.
//
// A Collector is created per run and passed into each component that issues
// LLM, embedding or ASR calls. There is no package-level state.
package usage

import (
	"sync"
	"time"
)

// CharsPerToken approximates tokens from character counts.
const CharsPerToken = 4

// Prices holds per-million-token prices for text generation.
type Prices struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost estimates the price of a call from its character counts.
func (p Prices) Cost(inputChars, outputChars int) float64 {
	in := float64(EstimateTokens(inputChars)) * p.InputPerMillion / 1_000_000
	out := float64(EstimateTokens(outputChars)) * p.OutputPerMillion / 1_000_000
	return in + out
}

// EstimateTokens converts a character count into an approximate token count.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// Stats is a point-in-time snapshot of a Collector.
type Stats struct {
	LLMCalls         int     `json:"llm_calls"`
	LLMFailures      int     `json:"llm_failures"`
	LLMInputChars    int     `json:"llm_input_chars"`
	LLMOutputChars   int     `json:"llm_output_chars"`
	LLMInputTokens   int     `json:"llm_input_tokens"`
	LLMOutputTokens  int     `json:"llm_output_tokens"`
	EmbeddingCalls   int     `json:"embedding_calls"`
	EmbeddedInputs   int     `json:"embedded_inputs"`
	ASRCalls         int     `json:"asr_calls"`
	ASRFailures      int     `json:"asr_failures"`
	ASRAudioSeconds  float64 `json:"asr_audio_seconds"`
	CacheHits        int     `json:"cache_hits"`
	CacheMisses      int     `json:"cache_misses"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	// StageMillis maps stage name to elapsed wall time.
	StageMillis map[string]int64 `json:"stage_ms,omitempty"`
}

// Collector accumulates usage counters. The zero value is not usable; call New.
type Collector struct {
	mu     sync.Mutex
	prices Prices
	stats  Stats
}

// New creates a collector that prices LLM calls with p.
func New(p Prices) *Collector {
	return &Collector{prices: p, stats: Stats{StageMillis: map[string]int64{}}}
}

// RecordLLM records a completed or failed text-generation call.
func (c *Collector) RecordLLM(inputChars, outputChars int, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.LLMCalls++
	if err != nil {
		c.stats.LLMFailures++
	}
	c.stats.LLMInputChars += inputChars
	c.stats.LLMOutputChars += outputChars
	c.stats.LLMInputTokens += EstimateTokens(inputChars)
	c.stats.LLMOutputTokens += EstimateTokens(outputChars)
	c.stats.EstimatedCostUSD += c.prices.Cost(inputChars, outputChars)
}

// RecordEmbedding records one embedding request covering n inputs.
func (c *Collector) RecordEmbedding(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.EmbeddingCalls++
	c.stats.EmbeddedInputs += n
}

// RecordASR records one transcription call for the given audio duration.
func (c *Collector) RecordASR(seconds float64, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ASRCalls++
	if err != nil {
		c.stats.ASRFailures++
		return
	}
	c.stats.ASRAudioSeconds += seconds
}

// RecordCache records a cache lookup outcome.
func (c *Collector) RecordCache(hit bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.stats.CacheHits++
	} else {
		c.stats.CacheMisses++
	}
}

// RecordStage adds elapsed time to a stage.
func (c *Collector) RecordStage(stage string, elapsed time.Duration) {
	if c == nil || stage == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.StageMillis[stage] += elapsed.Milliseconds()
}

// Prices returns the configured LLM prices.
func (c *Collector) Prices() Prices {
	if c == nil {
		return Prices{}
	}
	return c.prices
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.StageMillis = make(map[string]int64, len(c.stats.StageMillis))
	for k, v := range c.stats.StageMillis {
		out.StageMillis[k] = v
	}
	return out
}
