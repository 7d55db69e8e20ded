// Package errors provides the standardized error taxonomy shared by the
// client session, the HTTP API and the review workers.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	ErrCodeServiceError   ErrorCode = "SERVICE_ERROR"
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Sentinel Errors
// ==========================

var (
	ErrApplicationLocked = stderrors.New("APPLICATION_LOCKED")
	ErrOffline           = stderrors.New("OFFLINE")
	ErrSaveInProgress    = stderrors.New("SAVE_IN_PROGRESS")
	ErrNavigationBlocked = stderrors.New("NAVIGATION_BLOCKED")
	ErrUnknownIndicator  = stderrors.New("UNKNOWN_INDICATOR")
	ErrSessionClosed     = stderrors.New("SESSION_CLOSED")
)

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewNetworkTimeoutError creates a retryable error for timeouts and transport failures.
func NewNetworkTimeoutError(operation string, err error) *StandardError {
	details := fmt.Sprintf("operation: %s", operation)
	if err != nil {
		details = fmt.Sprintf("operation: %s, error: %s", operation, err.Error())
	}
	return newError(ErrCodeNetworkTimeout, "Network request failed or timed out", details, true, err)
}

// NewServiceError creates a retryable error for 5xx responses.
func NewServiceError(operation string, status int, details string) *StandardError {
	return newError(ErrCodeServiceError, "Remote service error", details, true, nil).
		WithMetadata("operation", operation).
		WithMetadata("status", status)
}

// NewValidationError creates a non-retryable error for rejected input.
func NewValidationError(message string, details ...string) *StandardError {
	return newError(ErrCodeValidation, message, strings.Join(details, "; "), false, nil)
}

// NewConflictError creates a non-retryable conflict error.
func NewConflictError(resource, details string) *StandardError {
	return newError(ErrCodeConflict, fmt.Sprintf("%s already exists or was modified", resource), details, false, nil)
}

// NewNotFoundError creates a non-retryable not-found error.
func NewNotFoundError(resource, id string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), id, false, nil)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return newError(ErrCodeInternal, "Unexpected error", details, false, err)
}

// ==========================
// 4. Classification
// ==========================

// As extracts a StandardError from err's chain.
func As(err error) (*StandardError, bool) {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the error's code, or INTERNAL_ERROR for anything unrecognized.
func CodeOf(err error) ErrorCode {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

func IsNotFound(err error) bool   { return HasCode(err, ErrCodeNotFound) }
func IsConflict(err error) bool   { return HasCode(err, ErrCodeConflict) }
func IsValidation(err error) bool { return HasCode(err, ErrCodeValidation) }

// IsRetryable is true for network timeouts and service errors. Context
// deadlines and transport failures count as network timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := As(err); ok {
		return se.Retryable
	}
	return isTransportError(err)
}

// Normalize maps arbitrary errors into the taxonomy.
func Normalize(operation string, err error) *StandardError {
	if err == nil {
		return nil
	}
	if se, ok := As(err); ok {
		return se
	}
	if isTransportError(err) {
		return NewNetworkTimeoutError(operation, err)
	}
	return NewInternalError(err)
}

func isTransportError(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return stderrors.As(err, &opErr)
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return code == ErrCodeNetworkTimeout || code == ErrCodeServiceError
}

// ==========================
// 5. HTTP Mapping
// ==========================

// FromHTTPStatus maps a non-2xx response into the taxonomy.
func FromHTTPStatus(operation string, status int, message, details string) *StandardError {
	switch {
	case status == http.StatusRequestTimeout:
		return NewNetworkTimeoutError(operation, fmt.Errorf("status %d: %s", status, message))
	case status == http.StatusNotFound:
		return newError(ErrCodeNotFound, orDefault(message, "Resource not found"), details, false, nil)
	case status == http.StatusConflict:
		return newError(ErrCodeConflict, orDefault(message, "Conflict"), details, false, nil)
	case status == http.StatusTooManyRequests || status >= 500:
		return NewServiceError(operation, status, orDefault(details, message))
	case status >= 400:
		return newError(ErrCodeValidation, orDefault(message, "Request rejected"), details, false, nil)
	default:
		return NewServiceError(operation, status, fmt.Sprintf("unexpected status %d", status))
	}
}

// HTTPStatus is the response status the API uses for an error code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeNetworkTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeServiceError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// ==========================
// 6. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// GetRetryCount returns the job retry budget for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeServiceError:
		return 3
	case ErrCodeNetworkTimeout:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// GetErrorCategory groups codes for logging.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeServiceError:
		return "TRANSIENT"
	case ErrCodeValidation:
		return "VALIDATION"
	case ErrCodeConflict, ErrCodeNotFound:
		return "STATE"
	default:
		return "OTHER"
	}
}
