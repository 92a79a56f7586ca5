package store

import (
	"context"
	"errors"
	"sync"

	"github.com/i474232898/weather-assistant/internal/alerts"
)

var (
	// ErrNotFound is returned when no record exists for a given user.
	ErrNotFound = errors.New("not found")
)

// MemorySubscriptionStore is a concurrency-safe in-memory alerts.SubscriptionStore.
// Contents live for the lifetime of the process.
type MemorySubscriptionStore struct {
	mu sync.RWMutex

	// key: user id
	data map[string]alerts.Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{data: make(map[string]alerts.Subscription)}
}

// Put stores sub, replacing the user's previous subscription. The previous
// ID and CreatedAt are kept.
func (s *MemorySubscriptionStore) Put(_ context.Context, sub alerts.Subscription) (alerts.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.data[sub.UserID]; ok {
		sub.ID = prev.ID
		sub.CreatedAt = prev.CreatedAt
	}
	s.data[sub.UserID] = sub.Clone()
	return sub.Clone(), nil
}

// Get returns the user's subscription or ErrNotFound.
func (s *MemorySubscriptionStore) Get(_ context.Context, userID string) (alerts.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.data[userID]
	if !ok {
		return alerts.Subscription{}, ErrNotFound
	}
	return sub.Clone(), nil
}

// Delete removes the user's subscription; missing users are ignored.
func (s *MemorySubscriptionStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, userID)
	return nil
}

// List returns a copy of every subscription. The read lock is held only while
// copying, never for the duration of an evaluation pass.
func (s *MemorySubscriptionStore) List(_ context.Context) ([]alerts.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]alerts.Subscription, 0, len(s.data))
	for _, sub := range s.data {
		result = append(result, sub.Clone())
	}
	return result, nil
}
