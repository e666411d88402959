package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeStatusEvent      MessageType = "status_event"
	TypeTranscriptEntry  MessageType = "transcript_entry"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions. Visibility and mic permission mirror what the
// browser reports; connect/disconnect are the user's explicit intent.
const (
	ActionConnect       = "connect"
	ActionDisconnect    = "disconnect"
	ActionVisibility    = "visibility"
	ActionMicPermission = "mic_permission"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	// Hidden accompanies ActionVisibility.
	Hidden *bool `json:"hidden,omitempty"`
	// Granted accompanies ActionMicPermission.
	Granted *bool `json:"granted,omitempty"`
	TSMs    int64 `json:"ts_ms,omitempty"`
}

// StatusEvent pushes the projected session state to the browser.
type StatusEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Speaking  bool        `json:"speaking"`
	RecipeID  string      `json:"recipe_id,omitempty"`
}

type TranscriptEntry struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	EntryID   string      `json:"entry_id"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionConnect, ActionDisconnect:
		case ActionVisibility:
			if msg.Hidden == nil {
				return nil, errors.New("visibility control requires hidden flag")
			}
		case ActionMicPermission:
			if msg.Granted == nil {
				return nil, errors.New("mic_permission control requires granted flag")
			}
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
