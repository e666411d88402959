package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbrandolini/cookalong/internal/protocol"
	"github.com/mbrandolini/cookalong/internal/session"
)

// handleSessionWS is the presentation channel. The dial is the mount signal
// and the close is the unmount signal: the controller's delayed cleanup is
// what lets a browser redial within the grace without losing the voice
// session.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	ctrl, err := s.sessions.Controller(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctrl.Mount()
	defer ctrl.Unmount()
	_ = s.sessions.Touch(sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	watch, cancelWatch := ctrl.Projection().Watch()
	defer cancelWatch()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.runProjectionWriter(ctx, cancel, conn, sessionID, ctrl, watch)
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			continue
		}
		_ = s.sessions.Touch(sessionID)
		s.dispatchClientMessage(ctrl, parsed)
	}

	cancel()
	<-writerDone
}

func (s *Server) dispatchClientMessage(ctrl *session.Controller, parsed any) {
	switch msg := parsed.(type) {
	case protocol.ClientControl:
		s.countWSMessage("inbound", string(msg.Type))
		switch msg.Action {
		case protocol.ActionConnect:
			// Detached from the ws request: a redial mid-connect must not
			// abort the attempt, the generation fence owns cancellation.
			go func() { _ = ctrl.Connect(context.Background()) }()
		case protocol.ActionDisconnect:
			go func() { _ = ctrl.Disconnect(context.Background()) }()
		case protocol.ActionVisibility:
			ctrl.SetHidden(*msg.Hidden)
		case protocol.ActionMicPermission:
			ctrl.ReportMicPermission(*msg.Granted)
		}
	case protocol.ClientAudioChunk:
		s.countWSMessage("inbound", string(msg.Type))
		pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
		if err != nil {
			return
		}
		_ = ctrl.ForwardAudio(pcm)
	}
}

// runProjectionWriter is the single websocket writer: it converts projection
// snapshots into status, transcript, and error events. Transcript entries
// are forwarded incrementally; a shrink means the controller reset it for a
// fresh attempt.
func (s *Server) runProjectionWriter(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID string, ctrl *session.Controller, watch <-chan session.Snapshot) {
	sentEntries := 0
	lastSeq := uint64(0)
	lastState := session.State("")
	lastSpeaking := false
	lastError := ""
	first := true

	send := func(v any, msgType string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(v); err != nil {
			cancel()
			return false
		}
		s.countWSMessage("outbound", msgType)
		return true
	}

	push := func(snap session.Snapshot) bool {
		// A watcher may deliver a snapshot older than the one already read
		// directly; the sequence makes those safe to drop.
		if !first && snap.Seq <= lastSeq {
			return true
		}
		lastSeq = snap.Seq
		if len(snap.Transcript) < sentEntries {
			sentEntries = 0
		}
		for _, e := range snap.Transcript[sentEntries:] {
			ev := protocol.TranscriptEntry{
				Type:      protocol.TypeTranscriptEntry,
				SessionID: sessionID,
				EntryID:   e.ID,
				Speaker:   e.Speaker,
				Text:      e.Text,
				TSMs:      e.EmittedAt.UnixMilli(),
			}
			if !send(ev, string(ev.Type)) {
				return false
			}
			sentEntries++
		}
		if first || snap.State != lastState || snap.Speaking != lastSpeaking {
			ev := protocol.StatusEvent{
				Type:      protocol.TypeStatusEvent,
				SessionID: sessionID,
				State:     string(snap.State),
				Speaking:  snap.Speaking,
			}
			if !send(ev, string(ev.Type)) {
				return false
			}
			lastState = snap.State
			lastSpeaking = snap.Speaking
		}
		if snap.ErrorCode != "" && snap.ErrorCode != lastError {
			ev := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      snap.ErrorCode,
				Retryable: true,
				Detail:    snap.ErrorDetail,
			}
			if !send(ev, string(ev.Type)) {
				return false
			}
		}
		lastError = snap.ErrorCode
		first = false
		return true
	}

	if !push(ctrl.Snapshot()) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-watch:
			if !push(snap) {
				return
			}
		}
	}
}

func (s *Server) countWSMessage(direction, msgType string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, msgType).Inc()
	}
}
