package session

import (
	"context"
	"sync"

	"b24bot/internal/telemetry"
)

// MemoryStore keeps sessions in process memory. It is the default when
// no Redis address is configured; state does not survive restarts.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]*Session)}
}

func (s *MemoryStore) Get(_ context.Context, chatID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	cp.Fields = make(map[string]string, len(sess.Fields))
	for k, v := range sess.Fields {
		cp.Fields[k] = v
	}
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ChatID]; !ok {
		telemetry.ActiveSessions.Inc()
	}
	cp := *sess
	cp.Fields = make(map[string]string, len(sess.Fields))
	for k, v := range sess.Fields {
		cp.Fields[k] = v
	}
	s.sessions[sess.ChatID] = &cp
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[chatID]; ok {
		telemetry.ActiveSessions.Dec()
		delete(s.sessions, chatID)
	}
	return nil
}
