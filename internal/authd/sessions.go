package authd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/electra-analytics/electra/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for an unknown or revoked refresh session.
	ErrSessionNotFound = errors.New("refresh session not found")

	// ErrSessionExpired is returned for a refresh session past its expiry.
	ErrSessionExpired = errors.New("refresh session expired")
)

// SessionStore keeps refresh sessions in memory. They are lost on restart.
type SessionStore struct {
	mu sync.RWMutex

	sessions       map[uuid.UUID]*models.RefreshSession // session_id -> RefreshSession
	sessionsByUser map[int64][]uuid.UUID                // user_id -> []session_id
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:       make(map[uuid.UUID]*models.RefreshSession),
		sessionsByUser: make(map[int64][]uuid.UUID),
	}
}

// Create stores a copy of session.
func (s *SessionStore) Create(ctx context.Context, session *models.RefreshSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.SessionID] = &clone
	s.sessionsByUser[session.UserID] = append(s.sessionsByUser[session.UserID], session.SessionID)

	return nil
}

// Get returns a live session.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.RefreshSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired() {
		return nil, ErrSessionExpired
	}

	clone := *session
	return &clone, nil
}

// Touch records a refresh against the session.
func (s *SessionStore) Touch(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	session.LastUsedAt = time.Now()
	return nil
}

// Delete revokes a session.
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	s.removeFromUserIndex(session.UserID, sessionID)
	delete(s.sessions, sessionID)

	return nil
}

// DeleteByUser revokes every session of a user and returns how many there were.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.sessionsByUser[userID]
	for _, id := range ids {
		delete(s.sessions, id)
	}
	delete(s.sessionsByUser, userID)

	return len(ids), nil
}

// DeleteExpired drops expired sessions and returns how many were removed.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			s.removeFromUserIndex(session.UserID, id)
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *SessionStore) removeFromUserIndex(userID int64, sessionID uuid.UUID) {
	ids := s.sessionsByUser[userID]
	for i, id := range ids {
		if id == sessionID {
			s.sessionsByUser[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.sessionsByUser[userID]) == 0 {
		delete(s.sessionsByUser, userID)
	}
}
