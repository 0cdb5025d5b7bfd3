// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the colors and lipgloss styles shared by the CLI and
// the TUI. Colors are lipgloss.AdaptiveColor values so light and dark
// terminals both get readable output.
package styles
