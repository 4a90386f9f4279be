// Package core provides the shared types and errors of the chat relay.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the class of a relay error
type ErrorType string

const (
	// ErrorTypeConfiguration indicates a request that cannot be routed as configured (missing key)
	ErrorTypeConfiguration ErrorType = "configuration_error"
	// ErrorTypeUpstream indicates the vendor rejected or broke the request
	ErrorTypeUpstream ErrorType = "upstream_error"
	// ErrorTypeInvalidRequest indicates a malformed client request (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeNotFound indicates a missing resource (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeConflict indicates the resource is busy (409)
	ErrorTypeConflict ErrorType = "conflict_error"
)

// Reasons carried by ConfigurationError.
const (
	ReasonMissingKey   = "missing_key"
	ReasonUnknownModel = "unknown_model"
)

// ClientError is implemented by every error that knows how it should be
// presented to an HTTP client.
type ClientError interface {
	error
	HTTPStatusCode() int
	ClientMessage() string
}

// ConfigurationError reports that a request cannot be routed with the
// credentials at hand. It is never retried.
type ConfigurationError struct {
	Reason string `json:"reason"`
	Vendor string `json:"vendor,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	switch e.Reason {
	case ReasonMissingKey:
		return fmt.Sprintf("%s API key is not configured, set it in settings", e.Vendor)
	case ReasonUnknownModel:
		return fmt.Sprintf("unknown model: %s", e.Model)
	default:
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
}

// HTTPStatusCode returns 400: the caller has to fix its settings.
func (e *ConfigurationError) HTTPStatusCode() int {
	return http.StatusBadRequest
}

// ClientMessage returns the user-facing message.
func (e *ConfigurationError) ClientMessage() string {
	return e.Error()
}

// NewMissingKeyError reports that no key is available for vendor.
func NewMissingKeyError(vendor string) *ConfigurationError {
	return &ConfigurationError{Reason: ReasonMissingKey, Vendor: vendor}
}

// UpstreamError is a vendor failure: network error, non-2xx status or a
// broken stream. Status is the vendor's HTTP status when there was one.
type UpstreamError struct {
	Vendor  string `json:"vendor,omitempty"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	if e.Vendor != "" {
		return fmt.Sprintf("[%s] upstream error (status %d): %s", e.Vendor, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps vendor auth and rate-limit failures through and reports
// everything else as a bad gateway.
func (e *UpstreamError) HTTPStatusCode() int {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return e.Status
	default:
		return http.StatusBadGateway
	}
}

// ClientMessage returns the vendor's message verbatim.
func (e *UpstreamError) ClientMessage() string {
	return e.Message
}

// NewUpstreamError creates an UpstreamError.
func NewUpstreamError(vendor string, status int, message string, err error) *UpstreamError {
	return &UpstreamError{Vendor: vendor, Status: status, Message: message, Err: err}
}

// RelayError is the error type for request-level failures that do not come
// from a vendor: bad input, unknown conversations, busy sessions.
type RelayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *RelayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *RelayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the user-facing message.
func (e *RelayError) ClientMessage() string {
	return e.Message
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *RelayError {
	return &RelayError{Type: ErrorTypeInvalidRequest, Message: message, StatusCode: http.StatusBadRequest, Err: err}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *RelayError {
	return &RelayError{Type: ErrorTypeNotFound, Message: message, StatusCode: http.StatusNotFound}
}

// NewConflictError creates a new conflict error (409)
func NewConflictError(message string) *RelayError {
	return &RelayError{Type: ErrorTypeConflict, Message: message, StatusCode: http.StatusConflict}
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// ToErrorBody converts any error into the response body. Errors that are not
// ClientErrors are reported with a generic message.
func ToErrorBody(err error) ErrorBody {
	var ce ClientError
	if errors.As(err, &ce) {
		return ErrorBody{Error: ce.ClientMessage()}
	}
	return ErrorBody{Error: "an unexpected error occurred"}
}

// ParseUpstreamError parses an error response from a vendor and returns an UpstreamError
func ParseUpstreamError(vendor string, statusCode int, body []byte, originalErr error) *UpstreamError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Message string `json:"message"`
	}

	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errorResponse); err == nil {
		switch {
		case errorResponse.Error.Message != "":
			message = errorResponse.Error.Message
		case errorResponse.Message != "":
			// SiliconFlow and Zhipu report {"code":..., "message": "..."}
			message = errorResponse.Message
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return NewUpstreamError(vendor, statusCode, message, originalErr)
}
