package backup

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  NotificationConfig
		wantErr string
	}{
		{
			name:   "everything disabled",
			config: NotificationConfig{},
		},
		{
			name:   "valid webhook",
			config: NotificationConfig{Webhook: WebhookConfig{Enabled: true, URL: "https://hooks.example.com/backup"}},
		},
		{
			name:    "webhook without url",
			config:  NotificationConfig{Webhook: WebhookConfig{Enabled: true}},
			wantErr: "notifications.webhook.url",
		},
		{
			name:    "negative retries",
			config:  NotificationConfig{Webhook: WebhookConfig{Enabled: true, URL: "http://x", MaxRetries: -1}},
			wantErr: "notifications.webhook.max_retries",
		},
		{
			name:    "file without path",
			config:  NotificationConfig{File: FileConfig{Enabled: true}},
			wantErr: "notifications.file.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNotificationConfig_SetDefaults(t *testing.T) {
	var nc NotificationConfig
	nc.SetDefaults()

	assert.Equal(t, http.MethodPost, nc.Webhook.Method)
	assert.Equal(t, 30*time.Second, nc.Webhook.Timeout)
	assert.Equal(t, 3, nc.Webhook.MaxRetries)
}

func TestWebhookObserver_DeliversEvent(t *testing.T) {
	received := make(chan NotificationEvent, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var event NotificationEvent
		require.NoError(t, json.Unmarshal(body, &event))
		received <- event
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	observer := NewWebhookObserver(newTestLogger(t), WebhookConfig{
		URL:     server.URL,
		Method:  http.MethodPut,
		Headers: map[string]string{"Authorization": "Bearer secret"},
		Timeout: 5 * time.Second,
	})
	observer.OnBackupComplete(&SnapshotMetadata{ID: "snapshot-20260501-000000.000000", FileCount: 3})

	select {
	case event := <-received:
		assert.Equal(t, EventBackupComplete, event.Event)
		require.NotNil(t, event.Snapshot)
		assert.Equal(t, "snapshot-20260501-000000.000000", event.Snapshot.ID)
		assert.Equal(t, 3, event.Snapshot.FileCount)
		assert.Empty(t, event.Error)
	default:
		t.Fatal("webhook was not called")
	}
}

func TestWebhookObserver_ReportsFailure(t *testing.T) {
	received := make(chan NotificationEvent, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event NotificationEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event
	}))
	defer server.Close()

	observer := NewWebhookObserver(newTestLogger(t), WebhookConfig{URL: server.URL})
	observer.OnError(errors.New("source directory does not exist"))

	event := <-received
	assert.Equal(t, EventBackupFailed, event.Event)
	assert.Nil(t, event.Snapshot)
	assert.Equal(t, "source directory does not exist", event.Error)
}

func TestWebhookObserver_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	observer := NewWebhookObserver(newTestLogger(t), WebhookConfig{URL: server.URL, MaxRetries: 3})
	err := observer.Send(context.Background(), NotificationEvent{Event: EventBackupComplete})

	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestWebhookObserver_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	observer := NewWebhookObserver(newTestLogger(t), WebhookConfig{URL: server.URL, MaxRetries: 3})
	err := observer.Send(context.Background(), NotificationEvent{Event: EventBackupComplete})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.EqualValues(t, 1, hits.Load())
}

func TestWebhookObserver_MissingURL(t *testing.T) {
	observer := NewWebhookObserver(newTestLogger(t), WebhookConfig{})
	err := observer.Send(context.Background(), NotificationEvent{})
	require.Error(t, err)
	assert.NotPanics(t, func() { observer.OnError(errors.New("boom")) })
}

func TestFileObserver_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "notifications.jsonl")
	observer := NewFileObserver(newTestLogger(t), FileConfig{Enabled: true, Path: path})

	observer.OnBackupComplete(&SnapshotMetadata{ID: "snapshot-1"})
	observer.OnError(errors.New("disk full"))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []NotificationEvent
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event NotificationEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, EventBackupComplete, events[0].Event)
	assert.Equal(t, "snapshot-1", events[0].Snapshot.ID)
	assert.Equal(t, EventBackupFailed, events[1].Event)
	assert.Equal(t, "disk full", events[1].Error)
	assert.False(t, events[1].Timestamp.IsZero())
}

func TestFileObserver_MissingPath(t *testing.T) {
	observer := NewFileObserver(newTestLogger(t), FileConfig{Enabled: true})
	assert.Error(t, observer.Write(NotificationEvent{Event: EventBackupComplete}))
}

func TestNewNotificationObservers(t *testing.T) {
	assert.Empty(t, NewNotificationObservers(NotificationConfig{}, nil))

	observers := NewNotificationObservers(NotificationConfig{
		Webhook: WebhookConfig{Enabled: true, URL: "https://hooks.example.com"},
		File:    FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "events.jsonl")},
	}, newTestLogger(t))

	require.Len(t, observers, 2)
	assert.IsType(t, &WebhookObserver{}, observers[0])
	assert.IsType(t, &FileObserver{}, observers[1])
}
