// Package agent wraps the third-party conversational voice backend behind a
// small capability interface. The backend owns speech recognition, synthesis
// and turn taking; this package only moves its lifecycle and transcript
// events across a process boundary.
package agent

import (
	"context"
	"errors"
)

var (
	ErrAlreadyStarted = errors.New("agent: session already started")
	ErrNotStarted     = errors.New("agent: session not started")
	ErrMissingToken   = errors.New("agent: missing conversation token")
)

// Source identifies who produced a transcript line.
type Source string

const (
	SourceUser  Source = "user"
	SourceAgent Source = "agent"
)

// Mode is the agent's current audio activity.
type Mode string

const (
	ModeSpeaking  Mode = "speaking"
	ModeListening Mode = "listening"
)

// Message is one transcript line emitted by the backend.
type Message struct {
	Source Source
	Text   string
}

// Handlers receives backend events. Callbacks are invoked from the
// capability's read loop; implementations must not block.
type Handlers struct {
	OnConnect        func()
	OnDisconnect     func()
	OnError          func(msg string)
	OnMessage        func(Message)
	OnSpeakingChange func(Mode)
}

// StartOptions configures a single conversation session. The overrides are
// fixed per cook session; the backend applies them on top of the agent's
// dashboard configuration.
type StartOptions struct {
	SystemInstructions string
	OpeningUtterance   string
	Language           string
	Handlers           Handlers
}

// Capability is one bidirectional voice session. Implementations hold at most
// one live connection; Start on a live session fails, Terminate on a closed
// one may fail and callers tolerate that.
type Capability interface {
	Start(ctx context.Context, token string, opts StartOptions) error
	Terminate(ctx context.Context) error
	SendAudio(pcm []byte) error
}

// TokenExchanger trades the server-held credential for a short-lived
// conversation token. One exchange per connect attempt.
type TokenExchanger interface {
	Exchange(ctx context.Context) (string, error)
}
