package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meetingflow/internal/config"
)

const userAgent = "meetingflow/0.1.0"

// Event names a notification type.
type Event string

// Notification events.
const (
	EventRecordingCompleted Event = "recording_completed"
	EventRecordingFailed    Event = "recording_failed"
	EventTest               Event = "test"
)

// Payload carries event fields. Known keys: name, stage, error, tasks,
// entities, duration.
type Payload map[string]any

// Service publishes pipeline notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.Completed,
		failed:    cfg.Notifications.Failed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	failed    bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, p Payload) error {
	data, ok := n.format(event, p)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) format(event Event, p Payload) (payload, bool) {
	name := stringValue(p, "name")
	switch event {
	case EventRecordingCompleted:
		if !n.completed {
			return payload{}, false
		}
		message := fmt.Sprintf("Processed: %s", name)
		var details []string
		if tasks, ok := p["tasks"].(int); ok {
			details = append(details, fmt.Sprintf("%d tasks", tasks))
		}
		if entities, ok := p["entities"].(int); ok {
			details = append(details, fmt.Sprintf("%d entities", entities))
		}
		if d, ok := p["duration"].(time.Duration); ok && d > 0 {
			details = append(details, "took "+d.Round(time.Second).String())
		}
		if len(details) > 0 {
			message += "\n" + strings.Join(details, ", ")
		}
		return payload{
			title:    "meetingflow - Processed",
			message:  message,
			tags:     []string{"meetingflow", "recording", "completed"},
			priority: "default",
		}, true
	case EventRecordingFailed:
		if !n.failed {
			return payload{}, false
		}
		var b strings.Builder
		b.WriteString("Failed")
		if stage := stringValue(p, "stage"); stage != "" {
			b.WriteString(" at ")
			b.WriteString(stage)
		}
		b.WriteString(": ")
		b.WriteString(name)
		if errText := stringValue(p, "error"); errText != "" {
			b.WriteString("\n")
			b.WriteString(errText)
		}
		return payload{
			title:    "meetingflow - Error",
			message:  b.String(),
			tags:     []string{"meetingflow", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "meetingflow - Test",
			message:  "Notification system test",
			tags:     []string{"meetingflow", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func stringValue(p Payload, key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
