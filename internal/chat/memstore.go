package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps messages in process. Used when no database is configured
// and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string]Message)}
}

func (s *MemoryStore) List(_ context.Context) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := m.Clone()
	return &c, nil
}

func (s *MemoryStore) Create(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("insert message: duplicate id %s", m.ID)
	}
	c := m.Clone()
	if c.Attachments == nil {
		c.Attachments = []Attachment{}
	}
	for i := range c.Attachments {
		c.Attachments[i].MessageID = c.ID
	}
	s.messages[m.ID] = c
	return nil
}

func (s *MemoryStore) UpdateBody(_ context.Context, id, body string, at time.Time) (*Message, error) {
	return s.mutate(id, func(m *Message) {
		m.Body = body
		m.UpdatedAt = &at
	})
}

func (s *MemoryStore) SetPinned(_ context.Context, id string, pinned bool) (*Message, error) {
	return s.mutate(id, func(m *Message) { m.IsPinned = pinned })
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) mutate(id string, fn func(*Message)) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(&m)
	s.messages[id] = m
	c := m.Clone()
	return &c, nil
}
