package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used when no database is configured
// and in tests. It is goroutine-safe.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]Message // sessionID -> messages in insertion order
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) CreateSession(_ context.Context, a, b Participant) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.sessions[id] = &Session{
		ID:        id,
		User1Addr: a.Addr,
		User2Addr: b.Addr,
		User1Name: a.Name,
		User2Name: b.Name,
		CreatedAt: s.now(),
	}
	return id, nil
}

func (s *MemoryStore) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.EndedAt != nil {
		return nil
	}
	t := s.now()
	sess.EndedAt = &t
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	if sess.EndedAt != nil {
		t := *sess.EndedAt
		cp.EndedAt = &t
	}
	return &cp, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, sessionID, senderAddr, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.messages[sessionID] = append(s.messages[sessionID], Message{
		ID:         id,
		SessionID:  sessionID,
		SenderAddr: senderAddr,
		Text:       text,
		CreatedAt:  s.now(),
	})
	return id, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]Message, len(s.messages[sessionID]))
	copy(msgs, s.messages[sessionID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// MessageCount returns the number of messages stored for a session.
func (s *MemoryStore) MessageCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID])
}
