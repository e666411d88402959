package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbrandolini/cookalong/internal/reliability"
)

const (
	defaultWSBaseURL = "wss://api.elevenlabs.io"
	conversationPath = "/v1/convai/conversation"

	handshakeTimeout = 10 * time.Second
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
)

// ElevenLabs implements Capability over the ElevenLabs Agents Platform
// websocket protocol.
type ElevenLabs struct {
	wsBaseURL string
	logger    *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers Handlers
	cancel   context.CancelFunc
	started  bool
}

func NewElevenLabs(wsBaseURL string, logger *slog.Logger) *ElevenLabs {
	if wsBaseURL == "" {
		wsBaseURL = defaultWSBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ElevenLabs{
		wsBaseURL: wsBaseURL,
		logger:    logger.With("component", "agent.elevenlabs"),
	}
}

// Start dials the conversation endpoint and sends the configuration override.
// Events begin flowing to opts.Handlers as soon as this returns nil.
func (e *ElevenLabs) Start(ctx context.Context, token string, opts StartOptions) error {
	if token == "" {
		return ErrMissingToken
	}

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	wsURL, err := url.Parse(e.wsBaseURL + conversationPath)
	if err != nil {
		e.reset()
		return fmt.Errorf("agent: invalid ws url: %w", err)
	}
	q := wsURL.Query()
	q.Set("conversation_token", token)
	wsURL.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		e.reset()
		if resp != nil {
			return fmt.Errorf("agent: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("agent: dial failed: %w", err)
	}

	init := initiationMessage{
		Type: "conversation_initiation_client_data",
		ConversationConfigOverride: &configOverride{
			Agent: &agentOverride{
				Prompt:       &promptOverride{Prompt: opts.SystemInstructions},
				FirstMessage: opts.OpeningUtterance,
				Language:     opts.Language,
			},
		},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(init); err != nil {
		_ = conn.Close()
		e.reset()
		return fmt.Errorf("agent: send initiation failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.conn = conn
	e.handlers = opts.Handlers
	e.cancel = cancel
	e.mu.Unlock()

	go e.readLoop(loopCtx)

	e.logger.Info("conversation started", "language", opts.Language)
	return nil
}

// Terminate closes the conversation. It fails when no session is live; the
// session controller tolerates that on double teardown.
func (e *ElevenLabs) Terminate(context.Context) error {
	e.mu.Lock()
	conn := e.conn
	cancel := e.cancel
	e.conn = nil
	e.cancel = nil
	e.started = false
	e.mu.Unlock()

	if conn == nil {
		return ErrNotStarted
	}
	if cancel != nil {
		cancel()
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	err := conn.Close()
	e.logger.Info("conversation terminated")
	return err
}

// SendAudio streams one PCM16 chunk upstream.
func (e *ElevenLabs) SendAudio(pcm []byte) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}

	msg := map[string]string{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(pcm),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("agent: marshal audio failed: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("agent: send audio failed: %w", err)
	}
	return nil
}

func (e *ElevenLabs) reset() {
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
}

func (e *ElevenLabs) readLoop(ctx context.Context) {
	defer e.emitDisconnect()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				reliability.IsExpectedClosure(err.Error()) {
				e.logger.Info("conversation closed")
				return
			}
			e.logger.Error("read error", "error", err)
			e.emitError(err.Error())
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			e.logger.Warn("unparseable event", "error", err)
			continue
		}
		e.handleServerEvent(ev)
	}
}

func (e *ElevenLabs) handleServerEvent(ev serverEvent) {
	switch ev.Type {
	case "conversation_initiation_metadata":
		e.emitConnect()

	case "user_transcript":
		if ev.UserTranscriptionEvent != nil && ev.UserTranscriptionEvent.UserTranscript != "" {
			e.emitMessage(Message{Source: SourceUser, Text: ev.UserTranscriptionEvent.UserTranscript})
		}
		e.emitSpeaking(ModeListening)

	case "agent_response":
		if ev.AgentResponseEvent != nil && ev.AgentResponseEvent.AgentResponse != "" {
			e.emitMessage(Message{Source: SourceAgent, Text: ev.AgentResponseEvent.AgentResponse})
		}

	case "audio":
		e.emitSpeaking(ModeSpeaking)

	case "agent_response_done", "audio_done":
		e.emitSpeaking(ModeListening)

	case "interruption":
		e.emitSpeaking(ModeListening)

	case "ping":
		eventID := 0
		if ev.PingEvent != nil {
			eventID = ev.PingEvent.EventID
		}
		e.sendPong(eventID)

	case "error":
		msg := ev.Message
		if msg == "" {
			msg = "upstream error"
		}
		e.emitError(msg)

	default:
		e.logger.Debug("unhandled event type", "type", ev.Type)
	}
}

func (e *ElevenLabs) sendPong(eventID int) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return
	}
	data, _ := json.Marshal(map[string]any{"type": "pong", "event_id": eventID})
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// Emit helpers: snapshot the callback under the lock, invoke outside it.

func (e *ElevenLabs) emitConnect() {
	e.mu.Lock()
	fn := e.handlers.OnConnect
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (e *ElevenLabs) emitDisconnect() {
	e.mu.Lock()
	fn := e.handlers.OnDisconnect
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (e *ElevenLabs) emitError(msg string) {
	e.mu.Lock()
	fn := e.handlers.OnError
	e.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (e *ElevenLabs) emitMessage(m Message) {
	e.mu.Lock()
	fn := e.handlers.OnMessage
	e.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (e *ElevenLabs) emitSpeaking(mode Mode) {
	e.mu.Lock()
	fn := e.handlers.OnSpeakingChange
	e.mu.Unlock()
	if fn != nil {
		fn(mode)
	}
}

// Wire types for the Agents Platform protocol.

type initiationMessage struct {
	Type                       string          `json:"type"`
	ConversationConfigOverride *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent *agentOverride `json:"agent,omitempty"`
}

type agentOverride struct {
	Prompt       *promptOverride `json:"prompt,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
	Language     string          `json:"language,omitempty"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

type serverEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`

	UserTranscriptionEvent *userTranscriptionEvent `json:"user_transcription_event,omitempty"`
	AgentResponseEvent     *agentResponseEvent     `json:"agent_response_event,omitempty"`
	PingEvent              *pingEvent              `json:"ping_event,omitempty"`
}

type userTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

type agentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type pingEvent struct {
	EventID int `json:"event_id"`
	PingMS  int `json:"ping_ms,omitempty"`
}

var _ Capability = (*ElevenLabs)(nil)
