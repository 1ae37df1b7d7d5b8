package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies pipeline failures by how they propagate.
type ErrorType string

const (
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeDataUnavailable     ErrorType = "data_unavailable"
	ErrorTypeInsufficientSamples ErrorType = "insufficient_samples"
	ErrorTypeTrainingFailure     ErrorType = "training_failure"
	ErrorTypeSchedulingExpired   ErrorType = "scheduling_expired"
	ErrorTypeCacheCorrupted      ErrorType = "cache_corrupted"
	ErrorTypeInternal            ErrorType = "internal"
)

// AppError is a structured pipeline error. Stage-level errors never abort
// the whole run; only cache corruption is fatal to the run that hit it.
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// NewDataUnavailableError covers store/network failures fetching one
// metric's samples. Recovered locally: the metric is skipped for the run.
func NewDataUnavailableError(metric string) *AppError {
	return &AppError{
		Type:      ErrorTypeDataUnavailable,
		Code:      "DATA_UNAVAILABLE",
		Message:   fmt.Sprintf("samples for %s are unavailable", metric),
		Retryable: true,
		Details:   map[string]interface{}{"metric": metric},
	}
}

// NewInsufficientSamplesError means a stage could not run for one metric.
// Recovered locally: the stage's output is omitted for that metric.
func NewInsufficientSamplesError(metric, stage string, have, want int) *AppError {
	return &AppError{
		Type:    ErrorTypeInsufficientSamples,
		Code:    "INSUFFICIENT_SAMPLES",
		Message: fmt.Sprintf("%s has %d samples, %s needs %d", metric, have, stage, want),
		Details: map[string]interface{}{"metric": metric, "stage": stage},
	}
}

// NewTrainingFailureError marks a model training run that did not converge
// or lacked data. The previous artifact version stays authoritative.
func NewTrainingFailureError(modelType, cause string) *AppError {
	return &AppError{
		Type:      ErrorTypeTrainingFailure,
		Code:      "TRAINING_FAILURE",
		Message:   fmt.Sprintf("training %s failed: %s", modelType, cause),
		Retryable: true,
		Details:   map[string]interface{}{"model_type": modelType},
	}
}

// NewSchedulingExpiredError signals the run deadline passed. Not a fault:
// the current stage checkpoints its partial output and the run ends.
func NewSchedulingExpiredError(stage string) *AppError {
	return &AppError{
		Type:    ErrorTypeSchedulingExpired,
		Code:    "SCHEDULING_EXPIRED",
		Message: fmt.Sprintf("run deadline expired during %s", stage),
		Details: map[string]interface{}{"stage": stage},
	}
}

// NewCacheCorruptedError is fatal for the current run: the analysis window
// is discarded and refetched on the next trigger.
func NewCacheCorruptedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeCacheCorrupted,
		Code:    "CACHE_CORRUPTED",
		Message: message,
	}
}

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeInternal,
		Code:      "INTERNAL_ERROR",
		Message:   message,
		Retryable: true,
	}
}

// IsType checks if an error is of a specific type.
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

func IsDataUnavailable(err error) bool     { return IsType(err, ErrorTypeDataUnavailable) }
func IsInsufficientSamples(err error) bool { return IsType(err, ErrorTypeInsufficientSamples) }
func IsTrainingFailure(err error) bool     { return IsType(err, ErrorTypeTrainingFailure) }
func IsSchedulingExpired(err error) bool   { return IsType(err, ErrorTypeSchedulingExpired) }
func IsCacheCorrupted(err error) bool      { return IsType(err, ErrorTypeCacheCorrupted) }

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Wrap wraps an error with a message using fmt.Errorf with %w.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
