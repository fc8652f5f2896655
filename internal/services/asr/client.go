package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/resilience"
	"podscribe/internal/services"
	"podscribe/internal/transcript"
)

const defaultTimeout = 10 * time.Minute

// HTTPDoer describes the HTTP client used by the ASR service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one transcription call.
type Request struct {
	AudioURL string
	Start    float64
	Duration float64
}

// Transcriber is implemented by Client and by test fakes.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (transcript.Part, error)
}

// Client is the HTTP speech recognition client.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  HTTPDoer
	policy  resilience.Policy
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy resilience.Policy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// NewClient constructs a client from the [asr] config section.
func NewClient(cfg config.ASR, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		baseURL: strings.TrimSpace(cfg.BaseURL),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   strings.TrimSpace(cfg.Model),
		timeout: timeout,
		client:  http.DefaultClient,
		policy:  resilience.NoRetry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.IsRetryable == nil {
		c.policy.IsRetryable = isTransient
	}
	return c
}

type transcribeRequest struct {
	Model    string  `json:"model"`
	URL      string  `json:"url"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

type transcribeResponse struct {
	Segments []transcript.Segment `json:"segments"`
	Error    string               `json:"error,omitempty"`
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	body := strings.Join(strings.Fields(e.Body), " ")
	if len(body) > 160 {
		body = body[:160] + "..."
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, body)
}

// Transcribe sends one segment to the provider. Returned segment times are
// absolute episode times.
func (c *Client) Transcribe(ctx context.Context, req Request) (transcript.Part, error) {
	part := transcript.Part{Offset: req.Start}
	if c.apiKey == "" {
		return part, services.Wrap(services.ErrConfiguration, "asr", "transcribe", "asr.api_key is required", nil)
	}
	if c.baseURL == "" {
		return part, services.Wrap(services.ErrConfiguration, "asr", "transcribe", "asr.base_url is required", nil)
	}
	if strings.TrimSpace(req.AudioURL) == "" || req.Duration <= 0 {
		return part, services.Wrap(services.ErrValidation, "asr", "transcribe", "audio url and positive duration required", nil)
	}

	var resp transcribeResponse
	err := resilience.Retry(ctx, c.policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp = transcribeResponse{}
		return c.send(callCtx, transcribeRequest{
			Model:    c.model,
			URL:      req.AudioURL,
			Start:    req.Start,
			Duration: req.Duration,
		}, &resp)
	})
	if err != nil {
		return part, classify(req, err)
	}

	part.Segments = make([]transcript.Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		seg.Start += req.Start
		seg.End += req.Start
		seg.Text = strings.TrimSpace(seg.Text)
		part.Segments = append(part.Segments, seg)
	}
	return part, nil
}

func (c *Client) send(ctx context.Context, payload transcribeRequest, out *transcribeResponse) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("provider error: %s", out.Error)
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusRequestTimeout ||
			se.StatusCode == http.StatusTooManyRequests ||
			se.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classify(req Request, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	window := fmt.Sprintf("segment %.0fs-%.0fs", req.Start, req.Start+req.Duration)
	var se *statusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
		return services.Wrap(services.ErrConfiguration, "asr", "transcribe", "provider rejected credentials", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "asr", "transcribe", window, err)
	}
	return services.Wrap(services.ErrUpstream, "asr", "transcribe", window, err)
}
