package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"jackpotgate/fileutil"
	"jackpotgate/models"
)

// JSONStore keeps every entry in one JSON file. Updates hold a mutex across
// the read-modify-write and replace the file atomically.
type JSONStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func NewJSONStore(path string, logger *slog.Logger) *JSONStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONStore{path: path, logger: logger}
}

func (s *JSONStore) Get(_ context.Context, key string) (models.RateLimitEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.readLocked()
	e, ok := entries[key]
	return e, ok, nil
}

func (s *JSONStore) All(_ context.Context) (map[string]models.RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(), nil
}

func (s *JSONStore) Update(_ context.Context, keys []string, fn func(map[string]models.RateLimitEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readLocked()
	subset := make(map[string]models.RateLimitEntry, len(keys))
	for _, k := range keys {
		if e, ok := all[k]; ok {
			subset[k] = e
		}
	}

	fn(subset)

	for _, k := range keys {
		if e, ok := subset[k]; ok {
			all[k] = e
		} else {
			delete(all, k)
		}
	}
	return s.writeLocked(all)
}

func (s *JSONStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(map[string]models.RateLimitEntry{})
}

// readLocked treats a missing or unreadable file as an empty map.
func (s *JSONStore) readLocked() map[string]models.RateLimitEntry {
	entries := map[string]models.RateLimitEntry{}
	err := fileutil.ReadJSON(s.path, &entries)
	if err == nil {
		return entries
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Rate limit file unreadable, starting empty", "path", s.path, "error", err)
	}
	return map[string]models.RateLimitEntry{}
}

func (s *JSONStore) writeLocked(entries map[string]models.RateLimitEntry) error {
	if err := fileutil.WriteJSONAtomic(s.path, entries, 0o644); err != nil {
		return fmt.Errorf("failed to save rate limits: %w", err)
	}
	return nil
}
