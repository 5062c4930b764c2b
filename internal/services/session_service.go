package services

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionService keeps one Session per connected browser.
type SessionService struct {
	Generator Generator
	Validator Validator
	Settings  Settings

	logger   *zap.Logger
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewSessionService(gen Generator, val Validator, settings Settings, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		Generator: gen,
		Validator: val,
		Settings:  settings,
		logger:    logger,
		sessions:  make(map[uuid.UUID]*Session),
	}
}

// CreateSession registers a fresh session publishing to sink.
func (s *SessionService) CreateSession(sink Sink) *Session {
	sess := NewSession(s.Generator, s.Validator, sink, s.Settings, s.logger)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session", sess.ID.String()), zap.Int("active_sessions", count))
	return sess
}

func (s *SessionService) GetSession(id uuid.UUID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// RemoveSession stops the session's run, if any, and forgets it.
func (s *SessionService) RemoveSession(id uuid.UUID) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	if sess.Stop() {
		s.logger.Info("running conversation stopped on disconnect", zap.String("session", id.String()))
	}
	s.logger.Info("session removed", zap.String("session", id.String()))
}

// Shutdown stops every running conversation.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[uuid.UUID]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.Stop()
	}
}

// ParseTurns reads the form's turn count; blank or zero means the default.
func (st Settings) ParseTurns(raw string) (int, error) {
	n, err := parseWhole(raw, st.DefaultTurns)
	if err != nil {
		return 0, fmt.Errorf("turns: %w", err)
	}
	if n == 0 {
		return st.DefaultTurns, nil
	}
	return n, nil
}

// ParseDelay reads the form's delay in seconds; blank means the default and
// an explicit 0 disables the wait.
func (st Settings) ParseDelay(raw string) (int, error) {
	n, err := parseWhole(raw, st.DefaultDelaySeconds)
	if err != nil {
		return 0, fmt.Errorf("delay: %w", err)
	}
	return n, nil
}

func parseWhole(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	return n, nil
}
