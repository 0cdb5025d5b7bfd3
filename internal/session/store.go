// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/runner"
)

// Store persists conversations. Calls are best effort: failures are logged
// and never end a turn.
type Store interface {
	Insert(ctx context.Context, msg *model.Message, conversationID string) error
	Update(ctx context.Context, msg *model.Message, conversationID string) error
	Touch(ctx context.Context, conv *model.Conversation) error
	DeleteAll(ctx context.Context) error
}

// Catalog lists the models a turn may use.
type Catalog interface {
	Models(ctx context.Context) ([]model.Candidate, error)
}

// Runner executes one attempt. *runner.Runner satisfies it.
type Runner interface {
	RunStream(ctx context.Context, req runner.Request, progress chan<- runner.Progress) (runner.Result, error)
	RunNonStream(ctx context.Context, req runner.Request) (runner.NonStreamResult, error)
}

// nopStore is used when no Store is configured.
type nopStore struct{}

func (nopStore) Insert(context.Context, *model.Message, string) error  { return nil }
func (nopStore) Update(context.Context, *model.Message, string) error  { return nil }
func (nopStore) Touch(context.Context, *model.Conversation) error      { return nil }
func (nopStore) DeleteAll(context.Context) error                       { return nil }
