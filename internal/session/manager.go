package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// CookSession is one browser cook-along run: a recipe plus the controller
// that owns its voice session.
type CookSession struct {
	ID             string    `json:"session_id"`
	RecipeID       string    `json:"recipe_id"`
	RecipeTitle    string    `json:"recipe_title"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Ended          bool      `json:"ended"`

	controller *Controller
}

// Manager is the uuid-keyed registry of cook sessions. Abandoned sessions
// are shut down by the janitor after the inactivity timeout.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*CookSession
	inactivityTimeout time.Duration
	onExpire          func(*CookSession)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*CookSession),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*CookSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(recipeID, recipeTitle string, ctrl *Controller) *CookSession {
	now := time.Now().UTC()
	s := &CookSession{
		ID:             uuid.NewString(),
		RecipeID:       recipeID,
		RecipeTitle:    recipeTitle,
		StartedAt:      now,
		LastActivityAt: now,
		controller:     ctrl,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*CookSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Controller returns the live controller for a session.
func (m *Manager) Controller(sessionID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Ended {
		return nil, ErrNotFound
	}
	return s.controller, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End shuts the session's voice channel down and marks it ended.
func (m *Manager) End(ctx context.Context, sessionID string) (*CookSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	s.Ended = true
	s.LastActivityAt = time.Now().UTC()
	ctrl := s.controller
	out := clone(s)
	m.mu.Unlock()

	if ctrl != nil {
		ctrl.Shutdown(ctx)
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive(ctx)
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if !s.Ended {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive(ctx context.Context) {
	now := time.Now().UTC()
	var expired []*CookSession

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Ended {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Ended = true
		s.LastActivityAt = now
		expired = append(expired, s)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, s := range expired {
		if s.controller != nil {
			s.controller.Shutdown(ctx)
		}
		if hook != nil {
			hook(clone(s))
		}
	}
}

func clone(s *CookSession) *CookSession {
	c := *s
	return &c
}
