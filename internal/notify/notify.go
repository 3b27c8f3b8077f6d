package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending reader link alerts.
type Notifier interface {
	SendOffline(ctx context.Context, reader string, since time.Time, cause error) error
	SendOnline(ctx context.Context, reader string, downtime time.Duration) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
	}
}

// SendOffline sends a reader-offline alert at high priority.
func (c *Client) SendOffline(ctx context.Context, reader string, since time.Time, cause error) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Card reader offline: %s", reader)
	message := FormatOfflineMessage(reader, since, cause)
	tags := c.config.Tags + ",x"

	return c.send(ctx, title, message, tags, "high")
}

// SendOnline sends a reader-recovered alert.
func (c *Client) SendOnline(ctx context.Context, reader string, downtime time.Duration) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Card reader online: %s", reader)
	message := FormatOnlineMessage(reader, downtime)
	tags := c.config.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when alerts are disabled.
type NoopNotifier struct{}

// SendOffline is a no-op.
func (n *NoopNotifier) SendOffline(_ context.Context, _ string, _ time.Time, _ error) error {
	return nil
}

// SendOnline is a no-op.
func (n *NoopNotifier) SendOnline(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
