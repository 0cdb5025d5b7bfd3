// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package errclass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/runner"
	"github.com/jeranaias/rigrun-chat/internal/sse"
)

// =============================================================================
// CATEGORIES
// =============================================================================

// Category is the semantic class of a failure.
type Category int

const (
	Unknown Category = iota
	MissingCredential
	InsufficientCredits
	InvalidModel
	ModelNotFound
	ModelNotMultimodal
	ContextTooLong
	RateLimited
	ServerUnavailable
	Timeout
	Network
	Cancelled
)

var categoryNames = map[Category]string{
	Unknown:             "unknown",
	MissingCredential:   "missing-credential",
	InsufficientCredits: "insufficient-credits",
	InvalidModel:        "invalid-model",
	ModelNotFound:       "model-not-found",
	ModelNotMultimodal:  "model-not-multimodal",
	ContextTooLong:      "context-too-long",
	RateLimited:         "rate-limited",
	ServerUnavailable:   "server-unavailable",
	Timeout:             "timeout",
	Network:             "network",
	Cancelled:           "cancelled",
}

// String returns the kebab-case category name.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether a failure of this category may succeed on
// another attempt.
func (c Category) Retryable() bool {
	switch c {
	case RateLimited, ServerUnavailable, Timeout, Network:
		return true
	}
	return false
}

// userMessages holds the user-facing explanation per category.
var userMessages = map[Category]string{
	Unknown:             "Something went wrong while getting a response.",
	MissingCredential:   "No API key is configured. Set RIGCHAT_API_KEY or add api_key to the [cloud] section of your config.",
	InsufficientCredits: "Your account has run out of credits. Add credits or pick a free model.",
	InvalidModel:        "The selected model is not ready. Pick a model from the catalog and try again.",
	ModelNotFound:       "The selected model could not be found. It may have been renamed or retired.",
	ModelNotMultimodal:  "The selected model does not accept images. Pick a multimodal model or remove the attachment.",
	ContextTooLong:      "The conversation is too long for this model. Start a new conversation or pick a model with a larger context window.",
	RateLimited:         "The model is rate limited right now. Wait a moment and try again.",
	ServerUnavailable:   "The model provider is temporarily unavailable. Try again shortly.",
	Timeout:             "The response timed out.",
	Network:             "Could not reach the model provider. Check your connection.",
	Cancelled:           "Stopped.",
}

// UserMessage returns the default user-facing text for the category.
func (c Category) UserMessage() string {
	if msg, ok := userMessages[c]; ok {
		return msg
	}
	return userMessages[Unknown]
}

// =============================================================================
// CLASSIFIED ERROR
// =============================================================================

// Error is a classified failure.
type Error struct {
	Category         Category
	Retryable        bool
	UserMessage      string
	TechnicalMessage string
	Err              error
}

// Error implements the error interface with the technical message.
func (e *Error) Error() string {
	if e.TechnicalMessage != "" {
		return fmt.Sprintf("%s: %s", e.Category, e.TechnicalMessage)
	}
	return e.Category.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by category.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Category == e.Category
}

// New builds a classified error for failures synthesized by the caller.
func New(category Category, technical string) *Error {
	return &Error{
		Category:         category,
		Retryable:        category.Retryable(),
		UserMessage:      category.UserMessage(),
		TechnicalMessage: technical,
	}
}

// ModelNotReady is the error for an empty or unknown model selection.
func ModelNotReady(modelID string) *Error {
	if modelID == "" {
		return New(InvalidModel, "no model selected")
	}
	return New(InvalidModel, fmt.Sprintf("model %q is not in the catalog", modelID))
}

// NotMultimodal is the error for media sent to a text-only model.
func NotMultimodal(modelID string) *Error {
	return New(ModelNotMultimodal, fmt.Sprintf("model %q does not accept image input", modelID))
}

// PersistenceBusy is the error for a turn started while storage is resetting.
func PersistenceBusy() *Error {
	e := New(Unknown, "conversation storage is being reset")
	e.UserMessage = "Conversation storage is busy. Try again later."
	return e
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classify maps err into a category. It returns nil for nil and the same
// value for an already classified error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	cat := categorize(err)
	e := &Error{
		Category:         cat,
		Retryable:        cat.Retryable(),
		UserMessage:      cat.UserMessage(),
		TechnicalMessage: err.Error(),
		Err:              err,
	}
	var rl *cloud.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		e.UserMessage = fmt.Sprintf("The model is rate limited right now. Try again in %s.", rl.RetryAfter.Round(time.Second))
	}
	return e
}

func categorize(err error) Category {
	// Cancellation first: a cancelled read often surfaces as a network error too.
	switch {
	case errors.Is(err, runner.ErrCancelled), errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sse.ErrIdleTimeout):
		return Timeout
	}

	switch {
	case errors.Is(err, cloud.ErrNotConfigured), errors.Is(err, cloud.ErrAuthFailed):
		return MissingCredential
	case errors.Is(err, cloud.ErrInsufficientCredits):
		return InsufficientCredits
	case errors.Is(err, cloud.ErrInvalidModel):
		return InvalidModel
	case errors.Is(err, cloud.ErrModelNotFound):
		return ModelNotFound
	case errors.Is(err, cloud.ErrNotMultimodal):
		return ModelNotMultimodal
	case errors.Is(err, cloud.ErrContextTooLong):
		return ContextTooLong
	case errors.Is(err, cloud.ErrRateLimited):
		return RateLimited
	}

	var apiErr *cloud.APIError
	if errors.As(err, &apiErr) {
		if cat, ok := statusCategory(apiErr.Status); ok {
			return cat
		}
	}

	var upErr *sse.UpstreamError
	if errors.As(err, &upErr) {
		return upstreamCategory(upErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	var urlErr *url.Error
	switch {
	case errors.As(err, &netErr), errors.As(err, &urlErr),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return Network
	}

	if cat, ok := matchPatterns(err.Error()); ok {
		return cat
	}
	return Unknown
}

// upstreamCategory classifies an error frame from inside a stream. OpenRouter
// sends an HTTP-style status as the code; without one only the provider's
// message is matched, never the wrapper text.
func upstreamCategory(e *sse.UpstreamError) Category {
	if status, err := strconv.Atoi(e.Code); err == nil {
		if cat, ok := statusCategory(status); ok {
			return cat
		}
	}
	if cat, ok := matchPatterns(e.Code + " " + e.Message); ok {
		return cat
	}
	return Unknown
}

// statusCategory maps an HTTP status. 400 is left to the message text.
func statusCategory(status int) (Category, bool) {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return MissingCredential, true
	case status == http.StatusPaymentRequired:
		return InsufficientCredits, true
	case status == http.StatusNotFound:
		return ModelNotFound, true
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return Timeout, true
	case status == http.StatusTooManyRequests:
		return RateLimited, true
	case status >= 500 && status <= 599:
		return ServerUnavailable, true
	}
	return Unknown, false
}
