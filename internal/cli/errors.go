// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for rigrun-chat commands.
//
// STANDARDIZED PATTERN:
//   - ALWAYS return errors (never just print and return nil)
//   - Let main decide how to display errors
//   - ExitCode maps an error to a process exit status

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates a missing or rejected API key
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ConfigError wraps a configuration load or validation failure.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UsageError represents invalid command usage.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// ExitCode returns the process exit status for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}
	if errors.Is(err, storage.ErrConversationNotFound) {
		return ExitNotFoundError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	var cerr *errclass.Error
	if errors.As(err, &cerr) {
		switch cerr.Category {
		case errclass.MissingCredential:
			return ExitAuthError
		case errclass.Network, errclass.ServerUnavailable:
			return ExitNetworkError
		case errclass.Timeout:
			return ExitTimeoutError
		case errclass.ModelNotFound, errclass.InvalidModel:
			return ExitNotFoundError
		}
	}
	return ExitGeneralError
}
