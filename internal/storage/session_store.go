package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SessionRecord is a backend-issued session and the user it belongs to.
type SessionRecord struct {
	ID        string
	UserID    string
	Provider  string
	Subject   string
	ExpiresAt time.Time
}

// ErrNotFound indicates that a session does not exist (or was already signed out).
var ErrNotFound = errors.New("session not found")

// SessionStore persists issued sessions so they can be validated and revoked.
type SessionStore interface {
	Save(ctx context.Context, record SessionRecord) error
	Get(ctx context.Context, id string) (SessionRecord, error)
	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore keeps sessions in-memory. Useful for demos and tests, but not production-ready.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore returns a new in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: map[string]SessionRecord{},
	}
}

// Save stores (or overwrites) a session.
func (s *MemorySessionStore) Save(_ context.Context, record SessionRecord) error {
	if record.ID == "" {
		return errors.New("session id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[record.ID] = record
	return nil
}

// Get returns a session if present.
func (s *MemorySessionStore) Get(_ context.Context, id string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return record, nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CleanupExpired removes expired sessions and returns the number of deleted items.
func (s *MemorySessionStore) CleanupExpired(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, record := range s.sessions {
		if record.ExpiresAt.Before(now) {
			delete(s.sessions, id)
			count++
		}
	}
	return count
}
