// Package llm provides the text-generation and embedding clients used for
// transcript cleaning, structured summaries, and question answering.
//
// # Entry Points
//
// NewClient: construct a chat client (OpenRouter or any OpenAI-compatible
// chat completions endpoint).
// Client.Complete: plain-text completion for cleaning and answers.
// Client.CompleteJSON: JSON-mode completion for summaries and speaker maps.
// Client.HealthCheck: verify API key and model availability.
// NewEmbedder / Embedder.Embed: batched embeddings for transcript windows.
//
// # Retry Behaviour
//
// Calls run under a resilience.Policy. The default policy makes a single
// attempt; callers opt in to retries via workflow.upstream_retries. Only
// HTTP 408/429/5xx, empty completions, and network timeouts are retried,
// and a Retry-After header overrides the computed backoff.
//
// # Errors
//
// Failures are tagged services.ErrUpstream, or services.ErrConfiguration for
// a missing key and HTTP 401/403 responses.
package llm
