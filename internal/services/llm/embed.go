package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"podscribe/internal/resilience"
)

const (
	defaultEmbeddingURL   = "https://api.openai.com/v1/embeddings"
	defaultEmbeddingBatch = 64
)

// Embedder turns text into fixed-dimension vectors.
type Embedder struct {
	cfg        Config
	httpClient *http.Client
	policy     resilience.Policy
	dimensions int
	batchSize  int
}

// EmbedderOption customizes an Embedder.
type EmbedderOption func(*Embedder)

// WithEmbedderHTTPClient overrides the default HTTP client.
func WithEmbedderHTTPClient(client *http.Client) EmbedderOption {
	return func(e *Embedder) {
		if client != nil {
			e.httpClient = client
		}
	}
}

// WithEmbedderRetryPolicy sets the retry policy for embedding requests.
func WithEmbedderRetryPolicy(policy resilience.Policy) EmbedderOption {
	return func(e *Embedder) {
		e.policy = policy
	}
}

// NewEmbedder constructs an embedding client. dimensions > 0 enables a
// length check on returned vectors; batchSize bounds inputs per request.
func NewEmbedder(cfg Config, dimensions, batchSize int, opts ...EmbedderOption) *Embedder {
	if batchSize <= 0 {
		batchSize = defaultEmbeddingBatch
	}
	embedder := &Embedder{
		cfg:        trimConfig(cfg),
		httpClient: &http.Client{Timeout: timeoutFor(cfg)},
		policy:     resilience.NoRetry(),
		dimensions: dimensions,
		batchSize:  batchSize,
	}
	for _, opt := range opts {
		opt(embedder)
	}
	if embedder.cfg.BaseURL == "" {
		embedder.cfg.BaseURL = defaultEmbeddingURL
	}
	embedder.policy = withTransientClassifier(embedder.policy)
	return embedder
}

// Dimensions reports the expected vector length (0 when unchecked).
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// BatchSize reports how many inputs are sent per request.
func (e *Embedder) BatchSize() int {
	return e.batchSize
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed returns one vector per input, in input order. Inputs are sent in
// batches; the first failing batch aborts the call.
func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if e.cfg.APIKey == "" {
		return nil, classifyConfig("embed")
	}
	vectors := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += e.batchSize {
		end := min(start+e.batchSize, len(inputs))
		batch, err := e.embedBatch(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *Embedder) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	payload := embeddingRequest{Model: e.cfg.Model, Input: inputs, Dimensions: e.dimensions}
	var vectors [][]float32
	err := resilience.Retry(ctx, e.policy, func(ctx context.Context) error {
		var resp embeddingResponse
		if _, err := postJSON(ctx, e.httpClient, e.cfg, payload, &resp); err != nil {
			return err
		}
		if resp.Error != nil {
			return fmt.Errorf("api error: %s", resp.Error.Message)
		}
		if len(resp.Data) != len(inputs) {
			return fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data))
		}
		sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
		out := make([][]float32, len(resp.Data))
		for i, item := range resp.Data {
			if e.dimensions > 0 && len(item.Embedding) != e.dimensions {
				return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(item.Embedding), e.dimensions)
			}
			out[i] = item.Embedding
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, classify("embed", e.policy.Attempts(), err)
	}
	return vectors, nil
}
