package agent

import (
	"context"
	"sync"
	"time"
)

// Mock is a scripted capability used when no backend is configured and in
// tests that exercise the full wiring. After Start it plays its script with
// short delays: connect, the opening utterance, then any extra lines.
type Mock struct {
	// ScriptDelay spaces scripted events. Zero means 10ms.
	ScriptDelay time.Duration
	// ExtraLines are emitted after the opening utterance, alternating with
	// synthetic user acknowledgements.
	ExtraLines []string

	mu         sync.Mutex
	started    bool
	handlers   Handlers
	stop       chan struct{}
	startCount int
	termCount  int
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Start(_ context.Context, token string, opts StartOptions) error {
	if token == "" {
		return ErrMissingToken
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.startCount++
	m.handlers = opts.Handlers
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go m.playScript(opts, stop)
	return nil
}

func (m *Mock) Terminate(context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.started = false
	m.termCount++
	stop := m.stop
	m.stop = nil
	h := m.handlers
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if h.OnDisconnect != nil {
		h.OnDisconnect()
	}
	return nil
}

func (m *Mock) SendAudio([]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrNotStarted
	}
	return nil
}

// StartCount reports how many times Start succeeded.
func (m *Mock) StartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

// TerminateCount reports how many times Terminate succeeded.
func (m *Mock) TerminateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.termCount
}

func (m *Mock) playScript(opts StartOptions, stop chan struct{}) {
	delay := m.ScriptDelay
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	h := opts.Handlers

	pause := func() bool {
		select {
		case <-stop:
			return false
		case <-time.After(delay):
			return true
		}
	}

	if h.OnConnect != nil {
		h.OnConnect()
	}
	if !pause() {
		return
	}

	opening := opts.OpeningUtterance
	if opening == "" {
		opening = "Hello! Let's get cooking."
	}
	if h.OnSpeakingChange != nil {
		h.OnSpeakingChange(ModeSpeaking)
	}
	if h.OnMessage != nil {
		h.OnMessage(Message{Source: SourceAgent, Text: opening})
	}
	if !pause() {
		return
	}
	if h.OnSpeakingChange != nil {
		h.OnSpeakingChange(ModeListening)
	}

	for _, line := range m.ExtraLines {
		if !pause() {
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(Message{Source: SourceUser, Text: "okay, ready"})
			h.OnMessage(Message{Source: SourceAgent, Text: line})
		}
	}
}

var _ Capability = (*Mock)(nil)
