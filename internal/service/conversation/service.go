package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/voiceloop/backend/internal/model/dialogue"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyExchange   = errors.New("exchange needs both input and reply")
)

// Session 一次语音会话
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service keeps completed turns of live sessions in memory. Entries are
// immutable once appended; nothing outlives the process.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]Session
	turns    map[string][]dialogue.Turn
}

// NewService 创建内存会话记录
func NewService() *Service {
	return &Service{
		sessions: make(map[string]Session),
		turns:    make(map[string][]dialogue.Turn),
	}
}

// CreateSession provisions an empty conversation.
func (s *Service) CreateSession(_ context.Context) Session {
	session := Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]dialogue.Turn, 0, 16)
	s.mu.Unlock()

	return session
}

// AppendExchange records a user input and the model reply that answered it.
// Both are appended together or not at all.
func (s *Service) AppendExchange(_ context.Context, sessionID, input, reply string) error {
	if input == "" || reply == "" {
		return ErrEmptyExchange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.turns[sessionID] = append(s.turns[sessionID],
		dialogue.Turn{Role: dialogue.RoleUser, Content: input},
		dialogue.Turn{Role: dialogue.RoleModel, Content: reply},
	)
	return nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Recent returns a copy of the last limit turns; limit <= 0 returns all.
func (s *Service) Recent(_ context.Context, sessionID string, limit int) ([]dialogue.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	copied := make([]dialogue.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}
