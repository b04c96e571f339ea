package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"audiorelay/internal/config"
	"audiorelay/internal/httpx"
)

// Event names an alert kind.
type Event string

const (
	EventDaemonStarted        Event = "daemon_started"
	EventExtractorUnavailable Event = "extractor_unavailable"
	EventFallbackStreak       Event = "fallback_streak"
	EventTestNotification     Event = "test"
)

// Payload carries event fields; unknown keys are ignored.
type Payload map[string]string

// Service publishes alerts.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService returns an ntfy-backed service, or a no-op when
// notifications.ntfy_topic is unset.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	return &ntfyService{endpoint: topic, client: httpx.NewClient(timeout)}
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
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	switch event {
	case EventDaemonStarted:
		body := fmt.Sprintf("Listening on %s", fallbackText(p["address"], "unknown address"))
		if strategies := strings.TrimSpace(p["strategies"]); strategies != "" {
			body += "\nStrategies: " + strategies
		}
		return message{
			title: "audiorelay - Started",
			body:  body,
			tags:  []string{"audiorelay", "daemon", "started"},
		}, true
	case EventExtractorUnavailable:
		return message{
			title:    "audiorelay - Extractor Unavailable",
			body:     fmt.Sprintf("Could not launch %s: %s", fallbackText(p["binary"], "extractor"), fallbackText(p["error"], "unknown error")),
			tags:     []string{"audiorelay", "extractor", "error"},
			priority: "high",
		}, true
	case EventFallbackStreak:
		body := fmt.Sprintf("%s consecutive requests were answered with fallback audio", fallbackText(p["count"], "Several"))
		if last := strings.TrimSpace(p["lastSource"]); last != "" {
			body += "\nLast: " + last
		}
		if attempts := strings.TrimSpace(p["attempts"]); attempts != "" {
			body += "\nAttempts: " + attempts
		}
		return message{
			title:    "audiorelay - Strategies Failing",
			body:     body,
			tags:     []string{"audiorelay", "fallback", "warning"},
			priority: "high",
		}, true
	case EventTestNotification:
		return message{
			title:    "audiorelay - Test",
			body:     "Notification system test",
			tags:     []string{"audiorelay", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func fallbackText(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", httpx.UserAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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
