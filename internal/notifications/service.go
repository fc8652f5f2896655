package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/events"
)

const userAgent = "Podscribe-Go/0.1.0"

// Service delivers task outcome notifications.
type Service interface {
	Handle(ctx context.Context, event events.Event) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		taskReady:  cfg.Notifications.TaskReady,
		taskFailed: cfg.Notifications.TaskFailed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	taskReady  bool
	taskFailed bool
}

// Handle sends a notification for READY and FAILED task events. Everything
// else, including user-requested cancellations, is ignored.
func (n *ntfyService) Handle(ctx context.Context, event events.Event) error {
	data, ok := n.format(event)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) format(event events.Event) (payload, bool) {
	subject := strings.TrimSpace(event.Detail)
	switch event.Type {
	case events.TaskCompleted:
		if !n.taskReady {
			return payload{}, false
		}
		if subject == "" {
			subject = event.SourceURL
		}
		return payload{
			title:   "Podscribe - Ready",
			message: fmt.Sprintf("✅ Transcript ready: %s", subject),
			tags:    []string{"podscribe", "task", "ready"},
		}, true
	case events.TaskFailed:
		if !n.taskFailed {
			return payload{}, false
		}
		message := fmt.Sprintf("❌ Processing failed: %s", event.SourceURL)
		if event.Stage != "" {
			message = fmt.Sprintf("%s\nStage: %s", message, event.Stage)
		}
		if subject != "" {
			message = fmt.Sprintf("%s\nError: %s", message, subject)
		}
		return payload{
			title:    "Podscribe - Failed",
			message:  message,
			tags:     []string{"podscribe", "task", "failed"},
			priority: "high",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Handle(context.Context, events.Event) error { return nil }
