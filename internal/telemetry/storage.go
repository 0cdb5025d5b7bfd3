// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// USAGE STORAGE
// =============================================================================

// UsageStorage persists finished sessions as JSON files.
type UsageStorage struct {
	dir string
}

// NewUsageStorage creates the storage directory if needed.
func NewUsageStorage(dir string) (*UsageStorage, error) {
	// Default to ~/.rigrun-chat/usage/
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(homeDir, ".rigrun-chat", "usage")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &UsageStorage{dir: dir}, nil
}

// Save writes a session to disk.
func (us *UsageStorage) Save(session *SessionUsage) error {
	if session == nil {
		return nil
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(filepath.Join(us.dir, session.ID+".json"), data, 0600)
}

// Load reads a session from disk.
func (us *UsageStorage) Load(sessionID string) (*SessionUsage, error) {
	data, err := os.ReadFile(filepath.Join(us.dir, sessionID+".json"))
	if err != nil {
		return nil, err
	}
	var session SessionUsage
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns the IDs of sessions started within [from, to], oldest first.
func (us *UsageStorage) List(from, to time.Time) ([]string, error) {
	entries, err := os.ReadDir(us.dir)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")

		// Format: YYYYMMDD-HHMMSS-counter
		stamp := id
		if parts := strings.Split(id, "-"); len(parts) >= 3 {
			stamp = parts[0] + "-" + parts[1]
		}
		ts, err := time.ParseInLocation("20060102-150405", stamp, time.Local)
		if err != nil {
			continue // Skip invalid filenames
		}
		if ts.Before(from) || ts.After(to) {
			continue
		}
		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids, nil
}
