// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playerapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotAssigned         = errors.New("backend: device not assigned to a screen")
	ErrInvalidDevice       = errors.New("backend: device code rejected")
	ErrUpstreamUnavailable = errors.New("backend: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("backend: request failed")
	ErrBadResponse         = errors.New("backend: invalid response format or malformed data")
)

// APIError wraps a sentinel with call context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // lower-level cause (net.Error, decode error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("playerapi: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Sentinel, e.Err}
	}
	return []error{e.Sentinel}
}

// wrapError classifies a transport error or HTTP status into an *APIError.
func wrapError(op string, err error, status int, body []byte) error {
	if err == nil && status >= 200 && status < 300 {
		return nil
	}
	var sentinel error
	switch {
	case err != nil:
		sentinel = ErrUpstreamUnavailable
	case status == http.StatusNotFound:
		sentinel = ErrNotAssigned
	case status == http.StatusBadRequest:
		sentinel = ErrInvalidDevice
	default:
		sentinel = ErrUpstreamError
	}
	return &APIError{
		Sentinel:  sentinel,
		Operation: op,
		Status:    status,
		Body:      truncate(string(body), 256),
		Err:       err,
	}
}

// Retryable reports whether a failed call is worth retrying. Pairing
// outcomes and caller cancellation are final.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrNotAssigned), errors.Is(err, ErrInvalidDevice):
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
