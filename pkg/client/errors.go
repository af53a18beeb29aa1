package client

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents connection failures, timeouts and cancellation.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a response body that is not a valid page.
	ErrorClassDecode ErrorClass = "decode"
)

// APIError represents a failed page request with additional context.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	// Body holds at most the first 512 bytes of an error response.
	Body string
	Err  error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("API %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsHTTPError reports whether the remote service answered with an error status.
func (e *APIError) IsHTTPError() bool {
	return e.ErrorClass == ErrorClassClient || e.ErrorClass == ErrorClassServer
}

// ClassOf returns the class of err, or "" when err is not an *APIError.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// classifyStatus maps an HTTP status to an error class. Statuses below 400
// are not errors and map to "".
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode >= 500:
		return ErrorClassServer
	case statusCode >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}
