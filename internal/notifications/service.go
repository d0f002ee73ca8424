// Package notifications delivers watchlist events via ntfy.
//
// The default implementation publishes to the topic configured in config.toml
// and gracefully degrades to a no-op when no topic is set. Workflow code
// depends only on the Service interface, so alternative transports slot in
// without touching the reconciliation core.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"watchbridge/internal/config"
	"watchbridge/internal/source"
)

const userAgent = "watchbridge/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	// NotifyWatchlistAddition announces one routed watchlist addition.
	NotifyWatchlistAddition(ctx context.Context, userName string, item source.Item) error
	// NotifySyncFailure announces a failed full reconciliation pass.
	NotifySyncFailure(ctx context.Context, err error) error
	// TestNotification sends a connectivity probe message.
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

var kindCaser = cases.Title(language.English)

func (n *ntfyService) NotifyWatchlistAddition(ctx context.Context, userName string, item source.Item) error {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		userName = "someone"
	}
	kind := kindCaser.String(string(item.Kind))
	data := payload{
		title:   "Watchbridge - Added",
		message: fmt.Sprintf("%s added by %s: %s", kind, userName, strings.TrimSpace(item.Title)),
		tags:    []string{"watchbridge", "watchlist", "added"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySyncFailure(ctx context.Context, err error) error {
	message := "Full sync failed"
	if err != nil {
		message = fmt.Sprintf("Full sync failed: %v", err)
	}
	data := payload{
		title:    "Watchbridge - Sync Failed",
		message:  message,
		tags:     []string{"watchbridge", "sync", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:   "Watchbridge - Test",
		message: "Test notification from watchbridge",
		tags:    []string{"watchbridge", "test"},
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

func (noopService) NotifyWatchlistAddition(context.Context, string, source.Item) error { return nil }
func (noopService) NotifySyncFailure(context.Context, error) error                     { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
