// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON document per conversation.
type FileStore struct {
	// BaseDir is the directory for storing conversations
	// Default: ~/.rigrun-chat/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int

	mu sync.Mutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{
		BaseDir:          baseDir,
		MaxConversations: 100,
	}, nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Insert adds or replaces msg in its conversation document.
func (s *FileStore) Insert(ctx context.Context, msg *model.Message, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadOrCreate(conversationID)
	if err != nil {
		return err
	}
	conv.upsert(toStoredMessage(msg))
	conv.UpdatedAt = time.Now()
	return s.save(conv)
}

// Update rewrites msg. A message that was never inserted is added.
func (s *FileStore) Update(ctx context.Context, msg *model.Message, conversationID string) error {
	return s.Insert(ctx, msg, conversationID)
}

// Touch records conversation metadata and bumps its update time.
func (s *FileStore) Touch(ctx context.Context, c *model.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadOrCreate(c.ID)
	if err != nil {
		return err
	}
	conv.Summary = c.Title
	conv.Model = c.Model
	conv.SystemPrompt = c.SystemPrompt
	if !c.CreatedAt.IsZero() {
		conv.CreatedAt = c.CreatedAt
	}
	conv.UpdatedAt = time.Now()
	if err := s.save(conv); err != nil {
		return err
	}

	// Enforce max conversations limit
	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return nil
}

// DeleteAll removes all saved conversations.
func (s *FileStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			if err := os.Remove(filepath.Join(s.BaseDir, entry.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

func (s *FileStore) delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error {
	return nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// LoadConversation retrieves a conversation by ID.
func (s *FileStore) LoadConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return conv.toModel(), nil
}

// ListConversations returns all saved conversations, most recent first.
func (s *FileStore) ListConversations(ctx context.Context) ([]ConversationMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *FileStore) list() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	metas := make([]ConversationMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		// Extract ID from filename
		id := strings.TrimSuffix(entry.Name(), ".json")
		conv, err := s.load(id)
		if err != nil {
			continue // Skip corrupted files
		}

		metas = append(metas, ConversationMeta{
			ID:           conv.ID,
			Summary:      conv.Summary,
			Model:        conv.Model,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
			Preview:      conv.GetPreview(),
		})
	}

	// Sort by updated time (most recent first)
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *FileStore) load(id string) (*StoredConversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv StoredConversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *FileStore) loadOrCreate(id string) (*StoredConversation, error) {
	if !validID(id) {
		return nil, ErrInvalidID
	}
	conv, err := s.load(id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}
	now := time.Now()
	return &StoredConversation{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *FileStore) save(conv *StoredConversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	// SECURITY: conversations are private to the user
	return util.AtomicWriteFile(s.filePath(conv.ID), data, 0600)
}

// enforceLimit removes oldest conversations if over limit.
func (s *FileStore) enforceLimit() {
	metas, err := s.list()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}
	// list is most recent first
	for _, meta := range metas[s.MaxConversations:] {
		_ = s.delete(meta.ID)
	}
}

// filePath returns the file path for a conversation ID.
func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}
