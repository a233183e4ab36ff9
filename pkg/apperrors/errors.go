// Package apperrors defines the error taxonomy shared across the engine.
//
// The taxonomy mirrors how failures propagate: config errors fail fast and
// never reach the network, reachability errors surface at registration,
// query and timeout errors are scoped to a single call or table, and pool
// exhaustion is retryable by the caller.
package apperrors

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a connection or scan job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConfig indicates a malformed connection descriptor. Never reaches the network.
	ErrConfig = errors.New("invalid configuration")

	// ErrUnsupportedKind indicates a source kind with no registered adapter.
	ErrUnsupportedKind = errors.New("unsupported source kind")

	// ErrUnreachable indicates the host/port could not be reached.
	ErrUnreachable = errors.New("host unreachable")

	// ErrAuthRejected indicates the source rejected the provided credentials.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrTimeout indicates a deadline expired mid-operation.
	ErrTimeout = errors.New("operation timed out")

	// ErrPoolExhausted indicates no physical handle became available within
	// the acquire wait timeout. Retryable by the caller with backoff.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrQueryRejected indicates a statement was refused before execution
	// (non-SELECT or injection pattern). No network call is attempted.
	ErrQueryRejected = errors.New("query rejected")

	// ErrQueryFailed indicates the source reported an error for a statement.
	ErrQueryFailed = errors.New("query failed")

	// ErrConnectionNotActive is returned when an operation requires an
	// Active connection but the descriptor is in another state.
	ErrConnectionNotActive = errors.New("connection not active")

	// ErrConflict is returned when registering an ID that already exists.
	ErrConflict = errors.New("conflict")
)

// ClassifyValidation maps a raw driver error from connection validation to
// one of the taxonomy sentinels. The original error remains available via
// errors.Unwrap-style inspection by the caller that wraps it.
func ClassifyValidation(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password authentication failed"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "login failed"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "28p01"), // postgres invalid_password
		strings.Contains(msg, "28000"): // invalid_authorization_specification
		return ErrAuthRejected
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "no such file"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "host is down"):
		return ErrUnreachable
	default:
		return ErrUnreachable
	}
}

// IsTimeout reports whether err is a deadline failure at any wrap depth.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
