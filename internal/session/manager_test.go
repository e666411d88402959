package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newManagerSession(t *testing.T, m *Manager) (*CookSession, *fakeCapability) {
	t.Helper()
	cap := &fakeCapability{}
	ctrl := newTestController(cap, &fakeExchanger{})
	s := m.Create("pasta-carbonara", "Pasta Carbonara", ctrl)
	if s.ID == "" {
		t.Fatalf("Create() returned empty session id")
	}
	return s, cap
}

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := newManagerSession(t, m)

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RecipeID != "pasta-carbonara" || got.RecipeTitle != "Pasta Carbonara" {
		t.Fatalf("session = %+v", got)
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerControllerLookup(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := newManagerSession(t, m)

	ctrl, err := m.Controller(s.ID)
	if err != nil {
		t.Fatalf("Controller() error = %v", err)
	}
	if ctrl == nil {
		t.Fatalf("Controller() = nil")
	}

	if _, err := m.End(context.Background(), s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.Controller(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Controller() after End error = %v, want ErrNotFound", err)
	}
}

func TestManagerEndShutsDownController(t *testing.T) {
	m := NewManager(time.Minute)
	s, cap := newManagerSession(t, m)

	ended, err := m.End(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if !ended.Ended {
		t.Fatalf("Ended = false, want true")
	}
	if got := cap.terminateCount(); got != 1 {
		t.Fatalf("terminate count = %d, want 1", got)
	}
	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}

func TestManagerExpiresInactiveSessions(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	s, cap := newManagerSession(t, m)

	var expired []*CookSession
	m.SetExpireHook(func(cs *CookSession) { expired = append(expired, cs) })

	time.Sleep(20 * time.Millisecond)
	m.expireInactive(context.Background())

	if len(expired) != 1 || expired[0].ID != s.ID {
		t.Fatalf("expired = %+v, want session %s", expired, s.ID)
	}
	if got := cap.terminateCount(); got != 1 {
		t.Fatalf("terminate count = %d, want 1", got)
	}
}

func TestManagerTouchDefersExpiry(t *testing.T) {
	m := NewManager(50 * time.Millisecond)
	s, _ := newManagerSession(t, m)

	time.Sleep(30 * time.Millisecond)
	if err := m.Touch(s.ID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	m.expireInactive(context.Background())

	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1 after touch", got)
	}
}
