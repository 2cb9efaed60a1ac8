// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies a provider failure into one of the fixed categories
// every adapter must translate to. Callers branch on Kind, never on
// vendor-specific error strings.
type Kind string

const (
	// KindInvalidCredentials means the backend rejected the API key.
	// A configuration problem; retrying cannot help.
	KindInvalidCredentials Kind = "invalid_credentials"

	// KindRateLimited means the backend is throttling. The caller may
	// retry later; this package never retries on its own.
	KindRateLimited Kind = "rate_limited"

	// KindTimeout means the call exceeded its configured duration.
	// Terminal for the turn.
	KindTimeout Kind = "timeout"

	// KindContextTooLarge means the backend rejected the payload size
	// even after trimming.
	KindContextTooLarge Kind = "context_too_large"

	// KindNetwork means a connectivity failure before any backend
	// response. Transient.
	KindNetwork Kind = "network"

	// KindBackendInternal means a 5xx-class failure on the provider
	// side. Transient, safe to retry later.
	KindBackendInternal Kind = "backend_internal"

	// KindUnknown is the catch-all. Full detail is logged internally;
	// only a generic safe message is shown externally.
	KindUnknown Kind = "unknown"
)

// Error is the typed result of a failed adapter call. It separates the
// user-safe presentation (UserMessage) from the internal cause, so a
// caller can show one and log the other without string matching.
type Error struct {
	Kind Kind

	// Provider names the backend family ("openai", "groq") for logs.
	Provider string

	// Timeout is the configured call duration, set when Kind is
	// KindTimeout so the surfaced message can include it.
	Timeout time.Duration

	// Cause is the underlying error. Never shown to end users.
	Cause error
}

func (err *Error) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("llm/%s: %s: %v", err.Provider, err.Kind, err.Cause)
	}
	return fmt.Sprintf("llm/%s: %s", err.Provider, err.Kind)
}

func (err *Error) Unwrap() error {
	return err.Cause
}

// UserMessage returns text safe to display to the end user. It never
// leaks backend detail.
func (err *Error) UserMessage() string {
	switch err.Kind {
	case KindInvalidCredentials:
		return "The API key is invalid. Please check the configuration."
	case KindRateLimited:
		return "Rate limit exceeded. Please wait a moment and try again."
	case KindTimeout:
		if err.Timeout > 0 {
			return fmt.Sprintf("Request timed out after %s. Please try again.", err.Timeout)
		}
		return "Request timed out. Please try again."
	case KindContextTooLarge:
		return "Message history is too long for the model. Clear the history and try again."
	case KindNetwork:
		return "Network error reaching the model provider. Please check connectivity and try again."
	case KindBackendInternal:
		return "The model provider is experiencing issues. Please try again in a moment."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// AsError extracts a *Error from an error chain. Returns nil when the
// chain contains none.
func AsError(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// WireError is the provider's own error classification, parsed from a
// non-200 response body in the common format used by OpenAI-compatible
// APIs: {"error":{"type":"...","code":"...","message":"..."}}.
type WireError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (err *WireError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", err.StatusCode, err.Message)
}

// Translate converts any error from a request into the public taxonomy.
// The mapping covers HTTP status classes, the vendors' context-length
// error codes, context cancellation, and net-level failures. Anything
// unrecognized becomes KindUnknown.
func Translate(provider string, err error, timeout time.Duration) *Error {
	if err == nil {
		return nil
	}
	if typed := AsError(err); typed != nil {
		return typed
	}

	result := &Error{Provider: provider, Cause: err, Kind: KindUnknown}

	var wire *WireError
	if errors.As(err, &wire) {
		switch {
		case wire.StatusCode == 401 || wire.StatusCode == 403:
			result.Kind = KindInvalidCredentials
		case wire.StatusCode == 429:
			result.Kind = KindRateLimited
		case wire.StatusCode >= 500:
			result.Kind = KindBackendInternal
		case isContextLengthError(wire):
			result.Kind = KindContextTooLarge
		}
		return result
	}

	if errors.Is(err, context.DeadlineExceeded) {
		result.Kind = KindTimeout
		result.Timeout = timeout
		return result
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			result.Kind = KindTimeout
			result.Timeout = timeout
		} else {
			result.Kind = KindNetwork
		}
		return result
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		result.Kind = KindNetwork
		return result
	}

	return result
}

// isContextLengthError recognizes the request-too-large shapes of
// OpenAI-compatible APIs: a dedicated error code, or a 400/413 whose
// type marks the request as oversized.
func isContextLengthError(wire *WireError) bool {
	if wire.Code == "context_length_exceeded" {
		return true
	}
	if wire.StatusCode == 413 {
		return true
	}
	return wire.StatusCode == 400 && wire.Type == "request_too_large"
}
