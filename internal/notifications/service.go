package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ferry/internal/config"
	"ferry/internal/transfer"
)

const userAgent = "Ferry/0.1.0"

// Service defines the notification surface.
type Service interface {
	NotifyBatchDone(ctx context.Context, summary transfer.BatchDoneEvent) error
	NotifyBatchError(ctx context.Context, batchID, message string) error
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
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
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

func (n *ntfyService) NotifyBatchDone(ctx context.Context, summary transfer.BatchDoneEvent) error {
	duration := summary.Duration().Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	data := payload{tags: []string{"ferry", "transfer", string(summary.Status)}}
	switch {
	case summary.Status == transfer.StatusCancelled:
		data.title = "Ferry - Transfer Cancelled"
		data.message = fmt.Sprintf("Batch %s cancelled after %d of %d items (%d failed) in %s",
			shortID(summary.BatchID), summary.Completed+summary.Failed, summary.Total, summary.Failed, duration)
	case summary.Failed == 0 && len(summary.Errors) == 0:
		data.title = "Ferry - Transfer Complete"
		data.message = fmt.Sprintf("Batch %s transferred %d items in %s",
			shortID(summary.BatchID), summary.Completed, duration)
	default:
		data.title = "Ferry - Transfer Complete (with errors)"
		data.message = fmt.Sprintf("Batch %s: %d succeeded, %d failed, %d errors in %s",
			shortID(summary.BatchID), summary.Completed, summary.Failed, len(summary.Errors), duration)
		data.tags = append(data.tags, "warning")
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchError(ctx context.Context, batchID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown"
	}
	data := payload{
		title:    "Ferry - Transfer Error",
		message:  fmt.Sprintf("Batch %s aborted: %s", shortID(batchID), message),
		tags:     []string{"ferry", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Ferry - Test",
		message:  "Notification system test",
		tags:     []string{"ferry", "test"},
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

// shortID trims uuid batch ids for phone-sized notifications.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) NotifyBatchDone(context.Context, transfer.BatchDoneEvent) error { return nil }
func (noopService) NotifyBatchError(context.Context, string, string) error         { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
