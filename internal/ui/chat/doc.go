// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the full-screen chat view for rigrun-chat.

The view is a Bubble Tea model driven by a session orchestrator. It never
talks to the network itself: it submits input, reads orchestrator events
and redraws.

# Layout

  - Header with the selected model and budget mode
  - Viewport transcript; finished assistant replies are rendered as markdown
  - Textarea input
  - Status bar with the turn state, a spinner while a reply streams and key hints

# Event Flow

Init starts a command that waits for one orchestrator event. Every EventMsg
re-arms it, so exactly one reader is outstanding. Send runs in its own
command and reports back with turnDoneMsg.

Events from a conversation the user has left (Ctrl+N during a reply) are
ignored by conversation ID.

# Keys

  - Enter: send
  - Alt+Enter: newline
  - Esc: stop the reply, keeping what is shown
  - Ctrl+N: new conversation
  - Ctrl+Y: copy the last reply
  - PgUp/PgDn: scroll
  - Ctrl+C: quit
*/
package chat
