package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"auto-backup/internal/logging"
)

// SnapshotLogger logs snapshot operations with a correlation ID per operation
// and, when configured, mirrors them to a JSON audit trail
type SnapshotLogger struct {
	logger      *logging.Logger
	auditLogger *logrus.Logger
	auditFile   *os.File
}

// SnapshotLoggerConfig holds configuration for snapshot logging
type SnapshotLoggerConfig struct {
	Logger       *logging.Logger
	AuditLogFile string
}

// NewSnapshotLogger creates a snapshot logger. An empty AuditLogFile disables
// the audit trail.
func NewSnapshotLogger(config SnapshotLoggerConfig) (*SnapshotLogger, error) {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	sl := &SnapshotLogger{logger: logger}

	if config.AuditLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.AuditLogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
		auditFile, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		auditLogger.SetLevel(logrus.InfoLevel)

		sl.auditLogger = auditLogger
		sl.auditFile = auditFile
	}

	return sl, nil
}

// Logger returns the underlying application logger
func (sl *SnapshotLogger) Logger() *logging.Logger {
	return sl.logger
}

// Close closes the audit trail file
func (sl *SnapshotLogger) Close() error {
	if sl.auditFile == nil {
		return nil
	}
	return sl.auditFile.Close()
}

// Begin logs the start of operation on snapshotID and returns a function that
// logs its completion. The details map of the completion call is merged into
// the start fields. The correlation ID comes from ctx when it carries one.
func (sl *SnapshotLogger) Begin(ctx context.Context, operation, snapshotID string, fields map[string]interface{}) func(err error, details map[string]interface{}) {
	startTime := time.Now()
	correlationID := logging.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	logFields := logrus.Fields{
		"correlation_id": correlationID,
		"operation":      operation,
		"status":         "started",
	}
	if snapshotID != "" {
		logFields["snapshot_id"] = snapshotID
	}
	for k, v := range fields {
		logFields[k] = v
	}

	sl.logger.WithFields(logFields).Debug("Snapshot operation started")

	return func(err error, details map[string]interface{}) {
		duration := time.Since(startTime)
		logFields["status"] = "completed"
		logFields["duration"] = duration.String()
		logFields["success"] = err == nil
		for k, v := range details {
			logFields[k] = v
		}
		if id, ok := details["snapshot_id"].(string); ok && id != "" {
			snapshotID = id
		}

		result := "success"
		if err != nil {
			result = "failure"
			logFields["status"] = "failed"
			logFields["error"] = err.Error()
			sl.logger.WithFields(logFields).Error("Snapshot operation failed")
		} else {
			sl.logger.WithFields(logFields).Info("Snapshot operation completed")
		}

		sl.audit(correlationID, operation, snapshotID, result, duration, err)
	}
}

func (sl *SnapshotLogger) audit(correlationID, operation, snapshotID, result string, duration time.Duration, err error) {
	if sl.auditLogger == nil {
		return
	}

	fields := logrus.Fields{
		"correlation_id": correlationID,
		"operation":      operation,
		"snapshot_id":    snapshotID,
		"result":         result,
		"duration":       duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if host, hostErr := os.Hostname(); hostErr == nil {
		fields["host"] = host
	}

	sl.auditLogger.WithFields(fields).Info("Audit log entry")
}
