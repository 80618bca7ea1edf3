// Package errors provides structured error handling for gridstore-exporter.
// It defines error codes, error types, and utilities for creating and
// inspecting errors with context and structured information.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"

	// Collection errors.
	CodeCollectorConflict  ErrorCode = "COLLECTOR_CONFLICT"
	CodeRuntimeUnavailable ErrorCode = "RUNTIME_UNAVAILABLE"
	CodeUnknownMetric      ErrorCode = "UNKNOWN_METRIC"

	// Runtime (table store) errors.
	CodeTableNotFound ErrorCode = "TABLE_NOT_FOUND"
	CodeTableExists   ErrorCode = "TABLE_EXISTS"
	CodeLockConflict  ErrorCode = "LOCK_CONFLICT"
	CodeTxNotFound    ErrorCode = "TX_NOT_FOUND"
	CodeNotRunning    ErrorCode = "NOT_RUNNING"

	// History store errors.
	CodeHistoryConnection ErrorCode = "HISTORY_CONNECTION"
	CodeHistoryQuery      ErrorCode = "HISTORY_QUERY"
	CodeHistorySchedule   ErrorCode = "HISTORY_SCHEDULE"
)

// CollectError represents an error raised while assembling metrics for a
// scrape. Per the collection protocol these never escape a scrape; they
// surface only through declaration and registration paths.
type CollectError struct {
	Code    ErrorCode
	Message string
	Metric  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *CollectError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("[%s] %s (metric: %s)", e.Code, e.Message, e.Metric)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *CollectError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *CollectError) WithContext(key string, value interface{}) *CollectError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewCollectError creates a new collection error with the specified code and message.
func NewCollectError(code ErrorCode, message string) *CollectError {
	return &CollectError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewCollectErrorWithMetric creates a collection error for a specific metric.
func NewCollectErrorWithMetric(code ErrorCode, message, metric string) *CollectError {
	return &CollectError{
		Code:    code,
		Message: message,
		Metric:  metric,
		Context: make(map[string]interface{}),
	}
}

// WrapCollectError wraps an existing error as a collection error.
func WrapCollectError(code ErrorCode, message string, err error) *CollectError {
	return &CollectError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// RuntimeError represents errors from the embedded table store runtime.
type RuntimeError struct {
	Code    ErrorCode
	Message string
	Table   string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("[%s] %s (table: %s)", e.Code, e.Message, e.Table)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// NewRuntimeError creates a new runtime error.
func NewRuntimeError(code ErrorCode, message string) *RuntimeError {
	return &RuntimeError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewRuntimeErrorWithTable creates a runtime error for a specific table.
func NewRuntimeErrorWithTable(code ErrorCode, message, table string) *RuntimeError {
	return &RuntimeError{
		Code:    code,
		Message: message,
		Table:   table,
		Context: make(map[string]interface{}),
	}
}

// WrapRuntimeError wraps an existing error as a runtime error.
func WrapRuntimeError(code ErrorCode, message string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// HistoryError represents snapshot history store errors.
type HistoryError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *HistoryError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *HistoryError) Unwrap() error {
	return e.Cause
}

// NewHistoryError creates a new history store error.
func NewHistoryError(code ErrorCode, message string) *HistoryError {
	return &HistoryError{
		Code:    code,
		Message: message,
	}
}

// WrapHistoryError wraps an existing error as a history store error.
func WrapHistoryError(code ErrorCode, message string, err error) *HistoryError {
	return &HistoryError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case *CollectError:
		return e.Code == code
	case *RuntimeError:
		return e.Code == code
	case *HistoryError:
		return e.Code == code
	case *ConfigError:
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *CollectError:
		return e.Code
	case *RuntimeError:
		return e.Code
	case *HistoryError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeTimeout, CodeHistoryConnection, CodeRuntimeUnavailable:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeConfiguration, CodeCollectorConflict:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrDeclarationConflict creates an error for an accumulator declared with a
// schema incompatible with a prior declaration.
func ErrDeclarationConflict(metric string) *CollectError {
	return NewCollectErrorWithMetric(CodeCollectorConflict,
		"Metric already declared with a different label schema", metric)
}

// ErrUnknownMetric creates an error for an enablement entry naming no known metric.
func ErrUnknownMetric(metric string) *ConfigError {
	return NewConfigFieldError(CodeUnknownMetric, "Unknown metric key", "metrics.enabled", metric)
}

// ErrTableNotFound creates an error for operations on an unregistered table.
func ErrTableNotFound(table string) *RuntimeError {
	return NewRuntimeErrorWithTable(CodeTableNotFound, "Table is not registered", table)
}

// ErrNotRunning creates an error for operations against a stopped runtime.
func ErrNotRunning() *RuntimeError {
	return NewRuntimeError(CodeNotRunning, "Table store runtime is not running")
}

// ErrHistoryConnection creates an error for history store connection failures.
func ErrHistoryConnection(err error) *HistoryError {
	return WrapHistoryError(CodeHistoryConnection, "Failed to connect to history store", err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
