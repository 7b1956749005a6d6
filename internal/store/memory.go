package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore implements Store in memory. Values are kept as JSON so they
// round-trip exactly like the SQLite store.
type MemoryStore struct {
	values map[string][]byte
	mu     sync.RWMutex
}

// NewMemory creates an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) get(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *MemoryStore) put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	return nil
}

func (s *MemoryStore) LoadHistory(ctx context.Context) ([]Message, error) {
	raw := s.get(HistoryKey)
	if raw == nil {
		return nil, nil
	}
	return decodeHistory(raw)
}

func (s *MemoryStore) SaveHistory(ctx context.Context, messages []Message) error {
	return s.put(HistoryKey, messages)
}

func (s *MemoryStore) LoadSettings(ctx context.Context) (Settings, error) {
	return decodeSettings(s.get(SettingsKey))
}

func (s *MemoryStore) SaveSettings(ctx context.Context, settings Settings) error {
	return s.put(SettingsKey, settings)
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
