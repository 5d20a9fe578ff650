package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"glimpse/internal/config"
)

const userAgent = "Glimpse/0.1.0"

// Service defines the notification surface exposed to the batch runner and
// the CLI.
type Service interface {
	NotifyRunStarted(ctx context.Context, label string, count int) error
	NotifyRunCompleted(ctx context.Context, label string, processed, failed int, duration time.Duration) error
	NotifyRunFailed(ctx context.Context, err error, contextLabel string) error
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

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		onComplete: cfg.Notifications.OnComplete,
		onError:    cfg.Notifications.OnError,
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
	onComplete bool
	onError    bool
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, label string, count int) error {
	if !n.onComplete {
		return nil
	}
	label = strings.TrimSpace(label)
	data := payload{
		title:   "Glimpse - Run Started",
		message: fmt.Sprintf("Started captioning %s (%d images)", label, count),
		tags:    []string{"glimpse", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, label string, processed, failed int, duration time.Duration) error {
	if !n.onComplete {
		return nil
	}
	label = strings.TrimSpace(label)

	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title, message string
	if failed == 0 {
		title = "Glimpse - Run Complete"
		message = fmt.Sprintf("✅ Captioned %s: %d images in %s", label, processed, durationText)
	} else {
		title = "Glimpse - Run Complete (with errors)"
		message = fmt.Sprintf("Captioned %s: %d succeeded, %d failed in %s", label, processed, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"glimpse", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, err error, contextLabel string) error {
	if !n.onError {
		return nil
	}

	var builder strings.Builder
	builder.WriteString("❌ Run failed")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" for ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Glimpse - Error",
		message:  builder.String(),
		tags:     []string{"glimpse", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Glimpse - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"glimpse", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func (noopService) NotifyRunStarted(context.Context, string, int) error { return nil }
func (noopService) NotifyRunCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyRunFailed(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
