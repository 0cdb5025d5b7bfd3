// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error variables for common OpenRouter failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenRouter API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInvalidModel indicates the model ID was rejected as malformed.
	ErrInvalidModel = errors.New("invalid model")

	// ErrContextTooLong indicates the prompt exceeds the model's context window.
	ErrContextTooLong = errors.New("context length exceeded")

	// ErrNotMultimodal indicates the model rejected image input.
	ErrNotMultimodal = errors.New("model does not support image input")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is an HTTP failure without a more specific sentinel.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitError represents a 429 with optional retry information.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	return msg
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// apiErrorResponse represents an error response body.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// handleErrorResponse converts an HTTP error response into a Go error.
func handleErrorResponse(status int, header http.Header, body []byte) error {
	var code, message string
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
		// OpenRouter sends numeric codes; other gateways send strings.
		code = strings.Trim(string(apiErr.Error.Code), `"`)
		if code == "null" {
			code = ""
		}
	} else {
		message = strings.TrimSpace(string(body))
	}

	wrap := func(sentinel error) error {
		if message == "" {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, message)
	}

	lower := strings.ToLower(message + " " + code)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return wrap(ErrAuthFailed)
	case http.StatusPaymentRequired:
		return wrap(ErrInsufficientCredits)
	case http.StatusNotFound:
		return wrap(ErrModelNotFound)
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(header), Message: message}
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		switch {
		case containsAny(lower, "context length", "context_length", "maximum context", "too many tokens", "prompt is too long"):
			return wrap(ErrContextTooLong)
		case containsAny(lower, "image input", "support image", "multimodal", "vision"):
			return wrap(ErrNotMultimodal)
		case containsAny(lower, "not a valid model", "invalid model"):
			return wrap(ErrInvalidModel)
		case containsAny(lower, "no endpoints found"):
			return wrap(ErrModelNotFound)
		}
	}
	return &APIError{Code: code, Message: message, Status: status}
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
