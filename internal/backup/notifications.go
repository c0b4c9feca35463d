package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	apperrors "auto-backup/internal/errors"
	"auto-backup/internal/logging"
)

// NotificationConfig holds configuration for scheduler notifications
type NotificationConfig struct {
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`
	File    FileConfig    `yaml:"file" json:"file"`
}

// WebhookConfig for generic webhook notifications
type WebhookConfig struct {
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	URL        string            `yaml:"url" json:"url"`
	Method     string            `yaml:"method" json:"method"`
	Headers    map[string]string `yaml:"headers" json:"headers,omitempty"`
	Timeout    time.Duration     `yaml:"timeout" json:"timeout"`
	MaxRetries int               `yaml:"max_retries" json:"max_retries"`
}

// FileConfig for file-based notifications
type FileConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Validate validates the NotificationConfig
func (nc *NotificationConfig) Validate() error {
	var errors ValidationErrors
	if nc.Webhook.Enabled {
		if nc.Webhook.URL == "" {
			errors.Add("notifications.webhook.url", "webhook URL is required when webhook is enabled", nil)
		}
		if nc.Webhook.MaxRetries < 0 {
			errors.Add("notifications.webhook.max_retries", "max retries cannot be negative", nc.Webhook.MaxRetries)
		}
	}
	if nc.File.Enabled && nc.File.Path == "" {
		errors.Add("notifications.file.path", "file path is required when file notifications are enabled", nil)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for notification configuration
func (nc *NotificationConfig) SetDefaults() {
	if nc.Webhook.Method == "" {
		nc.Webhook.Method = http.MethodPost
	}
	if nc.Webhook.Timeout == 0 {
		nc.Webhook.Timeout = 30 * time.Second
	}
	if nc.Webhook.MaxRetries == 0 {
		nc.Webhook.MaxRetries = 3
	}
}

// NotificationEvent is the payload delivered for each scheduler cycle
type NotificationEvent struct {
	Event     string            `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Host      string            `json:"host,omitempty"`
	Snapshot  *SnapshotMetadata `json:"snapshot,omitempty"`
	Error     string            `json:"error,omitempty"`
}

const (
	EventBackupComplete = "backup_complete"
	EventBackupFailed   = "backup_failed"
)

func newNotificationEvent(meta *SnapshotMetadata, err error) NotificationEvent {
	event := NotificationEvent{Timestamp: time.Now().UTC(), Snapshot: meta}
	if host, hostErr := os.Hostname(); hostErr == nil {
		event.Host = host
	}
	if err != nil {
		event.Event = EventBackupFailed
		event.Error = err.Error()
	} else {
		event.Event = EventBackupComplete
	}
	return event
}

// WebhookObserver posts each cycle outcome as JSON to a URL
type WebhookObserver struct {
	logger *logging.Logger
	config WebhookConfig
	client *http.Client
	retry  *apperrors.RetryHandler
}

// NewWebhookObserver creates a new webhook observer
func NewWebhookObserver(logger *logging.Logger, config WebhookConfig) *WebhookObserver {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	attempts := config.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	wo := &WebhookObserver{
		logger: logger,
		config: config,
		client: &http.Client{Timeout: timeout},
	}
	wo.retry = apperrors.NewRetryHandler(apperrors.RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		OnRetry:     wo.logRetry,
	})
	return wo
}

func (wo *WebhookObserver) logRetry(attempt int, err *apperrors.AppError, delay time.Duration) {
	wo.logger.WithFields(map[string]interface{}{
		"url":        logging.RedactURL(wo.config.URL),
		"attempt":    attempt,
		"error_type": string(err.Type),
		"delay":      delay.String(),
	}).Debug("Webhook delivery failed, retrying")
}

func (wo *WebhookObserver) OnBackupComplete(meta *SnapshotMetadata) {
	wo.deliver(newNotificationEvent(meta, nil))
}

func (wo *WebhookObserver) OnError(err error) {
	wo.deliver(newNotificationEvent(nil, err))
}

func (wo *WebhookObserver) deliver(event NotificationEvent) {
	if err := wo.Send(context.Background(), event); err != nil {
		wo.logger.WithFields(map[string]interface{}{
			"url":   logging.RedactURL(wo.config.URL),
			"event": event.Event,
			"error": err.Error(),
		}).Warn("Failed to deliver webhook notification")
	}
}

// Send delivers event, retrying transport failures and 5xx responses
func (wo *WebhookObserver) Send(ctx context.Context, event NotificationEvent) error {
	if wo.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := wo.config.Method
	if method == "" {
		method = http.MethodPost
	}

	return wo.retry.Retry(ctx, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, method, wo.config.URL, bytes.NewReader(payload))
		if err != nil {
			return apperrors.NewAppError(apperrors.ErrorTypeValidation, "failed to create webhook request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for key, value := range wo.config.Headers {
			req.Header.Set(key, value)
		}

		resp, err := wo.client.Do(req)
		if err != nil {
			// timeouts and connection failures classify as recoverable
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if statusErr := apperrors.ClassifyHTTPStatus(resp.StatusCode); statusErr != nil {
			return statusErr.WithContext("attempt", attempt)
		}
		return nil
	})
}

// FileObserver appends each cycle outcome to a file as one JSON line
type FileObserver struct {
	logger *logging.Logger
	path   string
	mu     sync.Mutex
}

// NewFileObserver creates a new file observer
func NewFileObserver(logger *logging.Logger, config FileConfig) *FileObserver {
	return &FileObserver{logger: logger, path: config.Path}
}

func (fo *FileObserver) OnBackupComplete(meta *SnapshotMetadata) {
	fo.deliver(newNotificationEvent(meta, nil))
}

func (fo *FileObserver) OnError(err error) {
	fo.deliver(newNotificationEvent(nil, err))
}

func (fo *FileObserver) deliver(event NotificationEvent) {
	if err := fo.Write(event); err != nil {
		fo.logger.WithFields(map[string]interface{}{
			"path":  fo.path,
			"error": err.Error(),
		}).Warn("Failed to write notification")
	}
}

// Write appends event to the notification file
func (fo *FileObserver) Write(event NotificationEvent) error {
	if fo.path == "" {
		return fmt.Errorf("file path not configured")
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification to JSON: %w", err)
	}

	fo.mu.Lock()
	defer fo.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fo.path), 0755); err != nil {
		return fmt.Errorf("failed to create notification directory: %w", err)
	}
	file, err := os.OpenFile(fo.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write notification to file: %w", err)
	}
	return nil
}

// NewNotificationObservers builds the observers enabled in config
func NewNotificationObservers(config NotificationConfig, logger *logging.Logger) []Observer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	var observers []Observer
	if config.Webhook.Enabled {
		observers = append(observers, NewWebhookObserver(logger, config.Webhook))
	}
	if config.File.Enabled {
		observers = append(observers, NewFileObserver(logger, config.File))
	}
	return observers
}
