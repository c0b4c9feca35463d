package backup

import (
	"errors"
	"fmt"
	"strings"
)

// BackupErrorType categorizes a BackupError. The scheduler uses it to tell a
// cycle worth repeating from one that will keep failing.
type BackupErrorType string

const (
	BackupErrorTypeStorage       BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeValidation    BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeCompression   BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption    BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeDecryption    BackupErrorType = "DECRYPTION_ERROR"
	BackupErrorTypeCorruption    BackupErrorType = "CORRUPTION_ERROR"
	BackupErrorTypeConfiguration BackupErrorType = "CONFIGURATION_ERROR"
	BackupErrorTypeNotFound      BackupErrorType = "NOT_FOUND_ERROR"
)

// retryable types may succeed on the next cycle; permanent ones need an
// operator to change something first. Types in neither set are undecided.
var (
	retryableTypes = map[BackupErrorType]bool{
		BackupErrorTypeStorage: true,
	}
	permanentTypes = map[BackupErrorType]bool{
		BackupErrorTypeValidation:    true,
		BackupErrorTypeCorruption:    true,
		BackupErrorTypeConfiguration: true,
		BackupErrorTypeDecryption:    true,
	}
)

// BackupError is the error returned by snapshot, restore and retention
// operations. Context carries identifiers such as the snapshot ID and is
// attached to log entries for the failure.
type BackupError struct {
	Type    BackupErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *BackupError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

func (e *BackupError) Unwrap() error { return e.Cause }

// WithContext records key=value on the error and returns it for chaining
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewBackupError creates a BackupError of the given type
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{Type: errorType, Message: message, Cause: cause}
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewDecryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeDecryption, message, cause)
}

func NewCorruptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCorruption, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

func asBackupError(err error) *BackupError {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr
	}
	return nil
}

// ErrorTypeOf returns the BackupErrorType found in err's chain, or "" if none
func ErrorTypeOf(err error) BackupErrorType {
	if backupErr := asBackupError(err); backupErr != nil {
		return backupErr.Type
	}
	return ""
}

// ErrorFields returns log fields describing err: its type and any context
// recorded with WithContext. It returns nil when err carries no BackupError.
func ErrorFields(err error) map[string]interface{} {
	backupErr := asBackupError(err)
	if backupErr == nil {
		return nil
	}
	fields := make(map[string]interface{}, len(backupErr.Context)+1)
	for k, v := range backupErr.Context {
		fields[k] = v
	}
	fields["error_type"] = string(backupErr.Type)
	return fields
}

// IsNotFound reports whether err is a missing snapshot, artifact or source
func IsNotFound(err error) bool { return ErrorTypeOf(err) == BackupErrorTypeNotFound }

// IsDecryptionFailure reports a wrong key or tampered ciphertext
func IsDecryptionFailure(err error) bool { return ErrorTypeOf(err) == BackupErrorTypeDecryption }

func IsStorageError(err error) bool { return ErrorTypeOf(err) == BackupErrorTypeStorage }

// IsRetryable reports whether the next cycle may succeed without intervention
func IsRetryable(err error) bool { return retryableTypes[ErrorTypeOf(err)] }

// IsPermanent reports whether every later attempt will fail the same way
func IsPermanent(err error) bool { return permanentTypes[ErrorTypeOf(err)] }

// ValidationError is one rejected configuration field
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every rejected field so a config can be fixed in
// one pass. Only the first is spelled out in Error.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: message, Value: value})
}

func (e ValidationErrors) HasErrors() bool { return len(e) > 0 }
