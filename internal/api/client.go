package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/queue"
	"podscribe/internal/services"
)

// ErrDaemonUnavailable is returned when the daemon cannot be reached.
var ErrDaemonUnavailable = errors.New("daemon unavailable")

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Kind       services.ErrorKind
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return e.Message
}

// Unwrap maps the reported kind back to its services marker.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case services.ErrorKindValidation:
		return services.ErrValidation
	case services.ErrorKindConfiguration:
		return services.ErrConfiguration
	case services.ErrorKindUpstream:
		return services.ErrUpstream
	case services.ErrorKindCapacity:
		return services.ErrCapacity
	case services.ErrorKindConsistency:
		return services.ErrConsistency
	case services.ErrorKindNotFound:
		return services.ErrNotFound
	case services.ErrorKindTimeout:
		return services.ErrTimeout
	}
	if e.StatusCode == http.StatusNotFound {
		return services.ErrNotFound
	}
	return nil
}

// Client talks to the daemon's HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient builds a client for the daemon at baseURL. A bare host:port is
// treated as http.
func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, services.Wrap(services.ErrConfiguration, "api", "client", "daemon address is empty", nil)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "client", "daemon address is invalid", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	c := &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClientFromConfig targets the configured API bind address. Wildcard hosts
// are dialed on loopback.
func ClientFromConfig(cfg *config.Config) (*Client, error) {
	bind := strings.TrimSpace(cfg.API.Bind)
	if host, port, err := net.SplitHostPort(bind); err == nil {
		switch host {
		case "", "0.0.0.0", "::", "[::]":
			bind = net.JoinHostPort("127.0.0.1", port)
		}
	}
	return NewClient(bind, cfg.API.Token)
}

// BaseURL returns the daemon base address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Submit enqueues a source URL.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks", nil, req, &resp)
	return resp, err
}

// GetTask fetches a task by ID.
func (c *Client) GetTask(ctx context.Context, id int64) (Task, error) {
	var resp TaskResponse
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+strconv.FormatInt(id, 10), nil, nil, &resp)
	return resp.Task, err
}

// LookupTask fetches the most recent task for a source URL.
func (c *Client) LookupTask(ctx context.Context, sourceURL string) (Task, error) {
	var resp TaskResponse
	err := c.do(ctx, http.MethodGet, "/api/tasks", url.Values{"url": {sourceURL}}, nil, &resp)
	return resp.Task, err
}

// ListTasks lists tasks, newest first, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, limit int, statuses ...queue.Status) ([]Task, error) {
	values := url.Values{}
	for _, status := range statuses {
		values.Add("status", string(status))
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var resp TaskListResponse
	err := c.do(ctx, http.MethodGet, "/api/tasks", values, nil, &resp)
	return resp.Tasks, err
}

// CancelTask requests cancellation of a non-terminal task.
func (c *Client) CancelTask(ctx context.Context, id int64) (Task, error) {
	var resp TaskResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+strconv.FormatInt(id, 10)+"/cancel", nil, nil, &resp)
	return resp.Task, err
}

// QueueStatus returns counts per status.
func (c *Client) QueueStatus(ctx context.Context) (QueueStatusResponse, error) {
	var resp QueueStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/queue/status", nil, nil, &resp)
	return resp, err
}

// Status returns daemon diagnostics.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp)
	return resp, err
}

// GetEpisode fetches an episode; segments are included when requested.
func (c *Client) GetEpisode(ctx context.Context, id int64, includeSegments bool) (Episode, error) {
	var values url.Values
	if includeSegments {
		values = url.Values{"segments": {"1"}}
	}
	var resp EpisodeResponse
	err := c.do(ctx, http.MethodGet, "/api/episodes/"+strconv.FormatInt(id, 10), values, nil, &resp)
	return resp.Episode, err
}

// ProcessEpisode queues a pipeline run for an existing episode.
func (c *Client) ProcessEpisode(ctx context.Context, id int64) (ProcessResponse, error) {
	var resp ProcessResponse
	err := c.do(ctx, http.MethodPost, "/api/episodes/"+strconv.FormatInt(id, 10)+"/process", nil, nil, &resp)
	return resp, err
}

// ReindexEpisode rebuilds an episode's chunk index from its stored script.
func (c *Client) ReindexEpisode(ctx context.Context, id int64) (ReindexResponse, error) {
	var resp ReindexResponse
	err := c.do(ctx, http.MethodPost, "/api/episodes/"+strconv.FormatInt(id, 10)+"/reindex", nil, nil, &resp)
	return resp, err
}

// Ask answers a question from indexed transcripts.
func (c *Client) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	var resp AskResponse
	err := c.do(ctx, http.MethodPost, "/api/ask", nil, req, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w at %s: %v", ErrDaemonUnavailable, c.base.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		apiErr := &Error{StatusCode: resp.StatusCode}
		var payload ErrorResponse
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = services.ErrorKind(payload.Kind)
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
