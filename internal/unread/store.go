package unread

import (
	"context"
	"sync"
)

// MarkerStore persists the per-channel read marker. Implementations must
// treat Set as last-writer-wins on a single channel key; the engine never
// performs read-modify-write across components, which is what makes the
// store safe for concurrent use.
type MarkerStore interface {
	// Get returns the last-read message id for a channel, or "" when no
	// marker exists yet.
	Get(ctx context.Context, channelID string) (string, error)

	// Set records the last-read message id for a channel.
	Set(ctx context.Context, channelID, messageID string) error

	// Delete removes the marker. Only called when the channel itself is
	// deleted.
	Delete(ctx context.Context, channelID string) error
}

// MemoryStore is a MarkerStore kept entirely in memory. Used in tests and as
// the fallback when no durable store is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	markers map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[string]string)}
}

// Get implements MarkerStore.
func (s *MemoryStore) Get(_ context.Context, channelID string) (string, error) {
	s.mu.RLock()
	id := s.markers[channelID]
	s.mu.RUnlock()
	return id, nil
}

// Set implements MarkerStore.
func (s *MemoryStore) Set(_ context.Context, channelID, messageID string) error {
	s.mu.Lock()
	s.markers[channelID] = messageID
	s.mu.Unlock()
	return nil
}

// Delete implements MarkerStore.
func (s *MemoryStore) Delete(_ context.Context, channelID string) error {
	s.mu.Lock()
	delete(s.markers, channelID)
	s.mu.Unlock()
	return nil
}
