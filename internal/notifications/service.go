package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"workqueue/internal/config"
)

const userAgent = "WorkQueue-Go/0.1.0"

// Level ranks how urgent an alert is. Critical alerts bypass per type gating.
type Level string

const (
	LevelInformational Level = "informational"
	LevelWarning       Level = "warning"
	LevelError         Level = "error"
	LevelCritical      Level = "critical"
)

// Alert is a one-way operator notification.
type Alert struct {
	Level      Level
	Component  string
	EntryKey   string
	JobType    string
	StorageKey string
	Message    string
}

// Service defines the alert sink exposed to engine components.
type Service interface {
	RaiseAlert(ctx context.Context, alert Alert) error
	TestNotification(ctx context.Context) error
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

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) RaiseAlert(ctx context.Context, alert Alert) error {
	level := alert.Level
	if level == "" {
		level = LevelInformational
	}

	title := "WorkQueue - " + strings.ToUpper(string(level[:1])) + string(level[1:])
	if component := strings.TrimSpace(alert.Component); component != "" {
		title += " (" + component + ")"
	}

	var builder strings.Builder
	builder.WriteString(strings.TrimSpace(alert.Message))
	if alert.JobType != "" {
		fmt.Fprintf(&builder, "\nType: %s", alert.JobType)
	}
	if alert.StorageKey != "" {
		fmt.Fprintf(&builder, "\nStorage: %s", alert.StorageKey)
	}
	if alert.EntryKey != "" {
		fmt.Fprintf(&builder, "\nEntry: %s", alert.EntryKey)
	}

	tags := []string{"workqueue", string(level)}
	if alert.JobType != "" {
		tags = append(tags, alert.JobType)
	}

	return n.send(ctx, payload{
		title:    title,
		message:  builder.String(),
		tags:     tags,
		priority: ntfyPriority(level),
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "WorkQueue - Test",
		message:  "Notification system test",
		tags:     []string{"workqueue", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func ntfyPriority(level Level) string {
	switch level {
	case LevelCritical:
		return "urgent"
	case LevelError:
		return "high"
	case LevelWarning:
		return "default"
	default:
		return "low"
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

func (noopService) RaiseAlert(context.Context, Alert) error { return nil }
func (noopService) TestNotification(context.Context) error  { return nil }

// NewNoop returns a Service that drops every alert.
func NewNoop() Service { return noopService{} }
