package kvstore

import (
	"context"
	"sync"
)

// Memory is an in-process Provider. It is used for local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]map[string]string)}
}

// ForSession returns the store of sessionID.
func (m *Memory) ForSession(sessionID string) Store {
	return &memorySession{parent: m, id: sessionID}
}

// Len reports how many keys are held for a session.
func (m *Memory) Len(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[sessionID])
}

type memorySession struct {
	parent *Memory
	id     string
}

func (s *memorySession) Get(_ context.Context, key string) (string, bool, error) {
	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()
	v, ok := s.parent.sessions[s.id][key]
	return v, ok, nil
}

func (s *memorySession) Set(_ context.Context, key, value string) error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	kv, ok := s.parent.sessions[s.id]
	if !ok {
		kv = make(map[string]string)
		s.parent.sessions[s.id] = kv
	}
	kv[key] = value
	return nil
}

func (s *memorySession) Delete(_ context.Context, keys ...string) error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	kv := s.parent.sessions[s.id]
	for _, k := range keys {
		delete(kv, k)
	}
	if len(kv) == 0 {
		delete(s.parent.sessions, s.id)
	}
	return nil
}
