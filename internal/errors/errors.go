// Package errors classifies failures at the edges of the backup engine
// (webhook delivery, process shutdown) and retries the recoverable ones.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeNetwork represents transport errors talking to remote endpoints
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeDelivery represents a remote endpoint rejecting a request
	ErrorTypeDelivery ErrorType = "delivery"
	// ErrorTypeStorage represents local file system errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents cancellation or a shutdown signal
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError is a classified error with optional context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	// StatusCode is set for errors built from an HTTP response
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns whether retrying the operation may succeed
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a permanent error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errorType, Message: message, Cause: cause}
}

// NewRecoverableError creates an error worth retrying
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errorType, Message: message, Cause: cause, Recoverable: true}
}

// ClassifyHTTPStatus turns a non-2xx response status into an error. Server
// errors, 408 and 429 are recoverable; any other 4xx is not. It returns nil
// for statuses below 400.
func ClassifyHTTPStatus(status int) *AppError {
	if status < 400 {
		return nil
	}
	msg := fmt.Sprintf("endpoint returned status %d %s", status, http.StatusText(status))
	var appErr *AppError
	switch {
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		appErr = NewRecoverableError(ErrorTypeDelivery, msg, nil)
	default:
		appErr = NewAppError(ErrorTypeDelivery, msg, nil)
	}
	appErr.StatusCode = status
	return appErr
}

// Classify returns err as an *AppError, inferring its type from the error
// chain when it is not one already. It returns nil for a nil error.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewRecoverableError(ErrorTypeTimeout, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrorTypeInterruption, "operation was canceled", err)
	}

	switch {
	case errors.Is(err, syscall.ENOSPC):
		return NewAppError(ErrorTypeStorage, "no space left on device", err)
	case errors.Is(err, fs.ErrPermission):
		return NewAppError(ErrorTypePermission, "permission denied", err)
	case errors.Is(err, fs.ErrNotExist):
		return NewAppError(ErrorTypeStorage, "file or directory not found", err)
	}

	// syscall.Errno satisfies net.Error too; a bare errno is not a network failure
	var netErr net.Error
	if errors.As(err, &netErr) {
		if _, isErrno := netErr.(syscall.Errno); !isErrno {
			if netErr.Timeout() {
				return NewRecoverableError(ErrorTypeTimeout, "network operation timed out", err)
			}
			return NewRecoverableError(ErrorTypeNetwork, "network error", err)
		}
	}

	return NewAppError(ErrorTypeUnknown, "unexpected error", err)
}

// IsRecoverable reports whether err classifies as recoverable
func IsRecoverable(err error) bool {
	appErr := Classify(err)
	return appErr != nil && appErr.Recoverable
}

// TypeOf returns the classified type of err
func TypeOf(err error) ErrorType {
	if appErr := Classify(err); appErr != nil {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// OnRetry, when set, is called before each wait with the attempt that
	// just failed
	OnRetry func(attempt int, err *AppError, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler runs an operation until it succeeds, fails permanently or
// runs out of attempts
type RetryHandler struct {
	config RetryConfig
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &RetryHandler{config: config}
}

// Retry calls operation with a 1-based attempt number. Errors are classified
// with Classify; only recoverable ones are retried. The returned error
// carries the number of attempts made in its "attempts" context key.
func (rh *RetryHandler) Retry(ctx context.Context, operation func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "operation canceled", err).
				WithContext("attempts", attempt-1)
		}

		err := operation(attempt)
		if err == nil {
			return nil
		}

		appErr := Classify(err)
		if !appErr.Recoverable || attempt >= rh.config.MaxAttempts {
			return appErr.WithContext("attempts", attempt)
		}

		delay := rh.Delay(attempt)
		if rh.config.OnRetry != nil {
			rh.config.OnRetry(attempt, appErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "operation canceled during retry", ctx.Err()).
				WithContext("attempts", attempt)
		case <-timer.C:
		}
	}
}

// Delay returns the wait after the given failed attempt:
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (rh *RetryHandler) Delay(attempt int) time.Duration {
	delay := float64(rh.config.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= rh.config.Multiplier
	}
	if rh.config.MaxDelay > 0 && delay > float64(rh.config.MaxDelay) {
		return rh.config.MaxDelay
	}
	return time.Duration(delay)
}

type shutdownFunc struct {
	name string
	fn   func() error
}

// GracefulShutdownHandler runs registered cleanup functions, newest first,
// once SIGINT or SIGTERM arrives or Trigger is called
type GracefulShutdownHandler struct {
	mu       sync.Mutex
	funcs    []shutdownFunc
	errs     []error
	signals  chan os.Signal
	once     sync.Once
	done     chan struct{}
	signaled chan struct{}
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		signals:  make(chan os.Signal, 1),
		done:     make(chan struct{}),
		signaled: make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a named cleanup step
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(name string, fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.funcs = append(gsh.funcs, shutdownFunc{name: name, fn: fn})
}

// Start listens for shutdown signals until shutdown has run
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-gsh.signals:
			gsh.Trigger()
		case <-gsh.signaled:
		}
	}()
}

// Trigger runs the shutdown sequence. Only the first call has any effect.
func (gsh *GracefulShutdownHandler) Trigger() {
	gsh.once.Do(func() {
		close(gsh.signaled)
		signal.Stop(gsh.signals)
		go gsh.shutdown()
	})
}

// Wait blocks until every registered function has run and returns their
// failures
func (gsh *GracefulShutdownHandler) Wait() []error {
	<-gsh.done
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	return append([]error(nil), gsh.errs...)
}

func (gsh *GracefulShutdownHandler) shutdown() {
	defer close(gsh.done)

	gsh.mu.Lock()
	funcs := append([]shutdownFunc(nil), gsh.funcs...)
	gsh.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i].fn(); err != nil {
			gsh.mu.Lock()
			gsh.errs = append(gsh.errs, fmt.Errorf("%s: %w", funcs[i].name, err))
			gsh.mu.Unlock()
		}
	}
}
