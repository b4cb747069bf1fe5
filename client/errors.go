// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSubmissionInFlight is returned when a submission of the same family
// is still outstanding.
var ErrSubmissionInFlight = errors.New("a submission is already in progress")

// TransportError is a failure worth retrying: the network, a 5xx, 408 or 429.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no response arrived
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConflictError is a terminal rejection by the server. Message is the
// server's text, unchanged.
type ConflictError struct {
	StatusCode int
	Message    string
}

func (e *ConflictError) Error() string { return e.Message }

// ValidationError is raised before any request is sent, or when the
// server rejects the request body (400, 422).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsRetryable reports whether err is a TransportError.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func classifyStatus(op string, status int, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return &TransportError{Op: op, StatusCode: status, Err: errors.New(message)}
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return &ValidationError{Message: message}
	default:
		return &ConflictError{StatusCode: status, Message: message}
	}
}
