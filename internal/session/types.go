package session

import "time"

// State is the UI-facing session status.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Error codes surfaced on the projection when a connect attempt fails.
const (
	CodePermissionDenied      = "permission_denied"
	CodeTokenExchangeFailed   = "token_exchange_failed"
	CodeCapabilityStartFailed = "capability_start_failed"
	CodeCapabilityError       = "capability_error"
)

// Entry is one immutable transcript line, appended in event-arrival order.
type Entry struct {
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Snapshot is the derived view the presentation layer reads. Transcript is a
// copy; callers may hold it across further events. Seq increases with every
// projection change so consumers can discard out-of-order snapshots.
type Snapshot struct {
	Seq         uint64  `json:"-"`
	State       State   `json:"state"`
	Speaking    bool    `json:"speaking"`
	Transcript  []Entry `json:"transcript"`
	ErrorCode   string  `json:"error_code,omitempty"`
	ErrorDetail string  `json:"error_detail,omitempty"`
}
