package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelflow/internal/config"
)

const userAgent = "reelflow/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventWorkflowCompleted Event = "workflow_completed"
	EventWorkflowFailed    Event = "workflow_failed"
	EventFailsafeRecovered Event = "failsafe_recovered"
	EventTest              Event = "test"
)

// Payload carries event fields. Missing keys render as empty strings.
type Payload map[string]any

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) count(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// Service defines the notification surface exposed to workflow components.
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
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventWorkflowCompleted: cfg.Notifications.Completed,
			EventWorkflowFailed:    cfg.Notifications.Failures,
			EventFailsafeRecovered: cfg.Notifications.Recoveries,
			EventTest:              true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	brand := payload.str("brand")
	switch event {
	case EventWorkflowCompleted:
		body := fmt.Sprintf("Published: %s", payload.str("title"))
		if url := payload.str("url"); url != "" {
			body = fmt.Sprintf("%s\n%s", body, url)
		}
		return message{
			title: titleFor(brand, "Published"),
			body:  body,
			tags:  []string{"reelflow", "workflow", "completed"},
		}, true
	case EventWorkflowFailed:
		return message{
			title:    titleFor(brand, "Workflow Failed"),
			body:     fmt.Sprintf("Failed at %s: %s\n%s", payload.str("stage"), payload.str("title"), payload.str("error")),
			tags:     []string{"reelflow", "workflow", "failed"},
			priority: "high",
		}, true
	case EventFailsafeRecovered:
		healed, advanced, failed := payload.count("healed"), payload.count("advanced"), payload.count("failed")
		if healed+advanced+failed == 0 {
			return message{}, false
		}
		msg := message{
			title: titleFor("", "Failsafe Recovery"),
			body:  fmt.Sprintf("Healed %d, advanced %d, failed %d stuck workflows", healed, advanced, failed),
			tags:  []string{"reelflow", "failsafe"},
		}
		if failed > 0 {
			msg.priority = "high"
		}
		return msg, true
	case EventTest:
		return message{
			title:    titleFor("", "Test"),
			body:     "Notification system test",
			tags:     []string{"reelflow", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func titleFor(brand, label string) string {
	if brand == "" {
		return "reelflow - " + label
	}
	return fmt.Sprintf("reelflow [%s] - %s", brand, label)
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
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
	if data.priority != "" {
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
