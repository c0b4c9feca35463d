package logging

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// ParseLevel parses a level name. The empty string means LogLevelNormal.
func ParseLevel(name string) (LogLevel, error) {
	switch level := LogLevel(strings.ToLower(strings.TrimSpace(name))); level {
	case "":
		return LogLevelNormal, nil
	case LogLevelQuiet, LogLevelNormal, LogLevelVerbose, LogLevelDebug:
		return level, nil
	default:
		return "", fmt.Errorf("unknown log level %q (expected quiet, normal, verbose or debug)", name)
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
	file   *os.File
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer // defaults to os.Stderr
	Format     string    // "text" or "json"
	ShowCaller bool
	// LogFile, when set, receives a copy of every entry
	LogFile string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "", "text":
		formatter := &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
		if config.ShowCaller {
			formatter.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			}
		}
		logger.SetFormatter(formatter)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected text or json)", config.Format)
	}

	level := config.Level
	if level == "" {
		level = LogLevelNormal
	}
	logger.SetLevel(level.logrusLevel())
	logger.SetReportCaller(config.ShowCaller)

	l := &Logger{logger: logger, level: level}

	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		output = io.MultiWriter(output, file)
		l.file = file
	}
	logger.SetOutput(output)

	return l, nil
}

// NewDefaultLogger creates a text logger at normal level writing to stderr
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelNormal})
	return logger
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

type correlationKey struct{}

// WithCorrelationID returns a context carrying id. Operations started under
// it log the same correlation_id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or ""
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// WithContext returns an entry carrying the context's correlation ID
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if id := CorrelationID(ctx); id != "" {
		entry = entry.WithField("correlation_id", id)
	}
	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// Snapshot operation logging methods

// LogSnapshotCreated logs the outcome of a snapshot creation
func (l *Logger) LogSnapshotCreated(snapshotID string, fileCount int, artifactBytes int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":      "snapshot_create",
		"snapshot_id":    snapshotID,
		"file_count":     fileCount,
		"artifact_bytes": artifactBytes,
		"duration":       duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Snapshot creation failed")
	} else {
		l.logger.WithFields(fields).Info("Snapshot created")
	}
}

// LogRestore logs the outcome of a snapshot restore
func (l *Logger) LogRestore(snapshotID, target string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "snapshot_restore",
		"snapshot_id": snapshotID,
		"target":      target,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Snapshot restore failed")
	} else {
		l.logger.WithFields(fields).Info("Snapshot restored")
	}
}

// LogRetention logs a retention pass
func (l *Logger) LogRetention(keepCount, deleted int, dryRun bool, duration time.Duration) {
	fields := logrus.Fields{
		"operation":  "retention",
		"keep_count": keepCount,
		"deleted":    deleted,
		"dry_run":    dryRun,
		"duration":   duration.String(),
	}

	if deleted > 0 {
		l.logger.WithFields(fields).Info("Retention pruned snapshots")
	} else {
		l.logger.WithFields(fields).Debug("Retention found nothing to prune")
	}
}

// LogSchedulerCycle logs one scheduler cycle
func (l *Logger) LogSchedulerCycle(cycle int, snapshotID string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "scheduler_cycle",
		"cycle":     cycle,
		"duration":  duration.String(),
	}
	if snapshotID != "" {
		fields["snapshot_id"] = snapshotID
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Scheduled backup failed")
	} else {
		l.logger.WithFields(fields).Info("Scheduled backup completed")
	}
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(level.logrusLevel())
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

// RedactURL hides credentials and query parameters of a URL for logging
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if len(raw) > 8 {
			return raw[:8] + "***"
		}
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	if u.RawQuery != "" {
		u.RawQuery = "***"
	}
	u.Fragment = ""
	return u.String()
}
