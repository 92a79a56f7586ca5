package store

import (
	"context"
	"sync"
	"time"
)

// DeviceRegistration maps a user to a push-delivery token.
type DeviceRegistration struct {
	UserID       string    `json:"user_id"`
	Token        string    `json:"token"`
	Platform     string    `json:"platform,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// AgentRecord maps a user to their conversational agent.
type AgentRecord struct {
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryDeviceStore keeps device registrations in process memory.
type MemoryDeviceStore struct {
	mu   sync.RWMutex
	data map[string]DeviceRegistration
}

func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{data: make(map[string]DeviceRegistration)}
}

// PutDevice creates or replaces (token rotation) the user's registration.
func (s *MemoryDeviceStore) PutDevice(_ context.Context, reg DeviceRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[reg.UserID] = reg
	return nil
}

func (s *MemoryDeviceStore) GetDevice(_ context.Context, userID string) (DeviceRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.data[userID]
	if !ok {
		return DeviceRegistration{}, ErrNotFound
	}
	return reg, nil
}

// DeleteDevice reports ErrNotFound when the user had no registration.
func (s *MemoryDeviceStore) DeleteDevice(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[userID]; !ok {
		return ErrNotFound
	}
	delete(s.data, userID)
	return nil
}

func (s *MemoryDeviceStore) CountDevices(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

// MemoryAgentDirectory keeps the user->agent mapping in process memory.
type MemoryAgentDirectory struct {
	mu   sync.RWMutex
	data map[string]AgentRecord
}

func NewMemoryAgentDirectory() *MemoryAgentDirectory {
	return &MemoryAgentDirectory{data: make(map[string]AgentRecord)}
}

func (d *MemoryAgentDirectory) PutAgent(_ context.Context, rec AgentRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[rec.UserID] = rec
	return nil
}

func (d *MemoryAgentDirectory) GetAgent(_ context.Context, userID string) (AgentRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.data[userID]
	if !ok {
		return AgentRecord{}, ErrNotFound
	}
	return rec, nil
}

func (d *MemoryAgentDirectory) DeleteAgent(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, userID)
	return nil
}
