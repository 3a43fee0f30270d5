package player

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager holds at most one open session per user.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	logger   *zap.Logger
}

func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[int64]*Session),
		logger:   logger,
	}
}

// Register adds s, closing any previous session of the same user.
func (sm *SessionManager) Register(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if old, ok := sm.sessions[s.UserID]; ok && old != s {
		old.Close()
		sm.logger.Info("duplicate session displaced", zap.Int64("user_id", s.UserID), zap.String("transport", old.Transport))
	}
	sm.sessions[s.UserID] = s
	sm.logger.Info("player session registered", zap.Int64("user_id", s.UserID), zap.String("transport", s.Transport))
}

// Unregister removes s if it is still the registered session for its
// user. It reports whether s was removed; false means a newer session
// displaced it.
func (sm *SessionManager) Unregister(s *Session) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	cur, ok := sm.sessions[s.UserID]
	if !ok || cur != s {
		return false
	}
	delete(sm.sessions, s.UserID)
	sm.logger.Info("player session unregistered", zap.Int64("user_id", s.UserID))
	return true
}

func (sm *SessionManager) Get(userID int64) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[userID]
}

func (sm *SessionManager) IsOnline(userID int64) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.sessions[userID]
	return ok
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot of the current sessions.
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAllSessions closes every session and waits up to wait for their
// push loops to unregister.
func (sm *SessionManager) CloseAllSessions(wait time.Duration) {
	sessions := sm.All()
	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if sm.Count() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
