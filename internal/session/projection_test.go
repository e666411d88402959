package session

import (
	"testing"
	"time"
)

func TestProjectionAppendOrder(t *testing.T) {
	p := NewProjection()
	p.Append("agent", "Welcome")
	p.Append("user", "hi")

	snap := p.Snapshot()
	if len(snap.Transcript) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(snap.Transcript))
	}
	if snap.Transcript[0].Text != "Welcome" || snap.Transcript[1].Text != "hi" {
		t.Fatalf("transcript order = %+v", snap.Transcript)
	}
	if snap.Transcript[0].ID == "" || snap.Transcript[0].ID == snap.Transcript[1].ID {
		t.Fatalf("entry ids not unique: %q %q", snap.Transcript[0].ID, snap.Transcript[1].ID)
	}
}

func TestProjectionSnapshotIsCopy(t *testing.T) {
	p := NewProjection()
	p.Append("agent", "Welcome")

	snap := p.Snapshot()
	p.Append("user", "hi")
	if len(snap.Transcript) != 1 {
		t.Fatalf("held snapshot grew: %d entries", len(snap.Transcript))
	}
}

func TestProjectionResetClears(t *testing.T) {
	p := NewProjection()
	p.SetError("capability_error", "boom")
	p.Append("agent", "Welcome")
	p.SetSpeaking(true)

	p.Reset()
	snap := p.Snapshot()
	if len(snap.Transcript) != 0 || snap.Speaking || snap.ErrorCode != "" {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}

func TestProjectionSetStateClearsStaleError(t *testing.T) {
	p := NewProjection()
	p.SetError("token_exchange_failed", "upstream 500")
	p.SetState(StateConnecting)

	snap := p.Snapshot()
	if snap.State != StateConnecting || snap.ErrorCode != "" {
		t.Fatalf("snapshot = %+v, want connecting with no error", snap)
	}
}

func TestProjectionWatchReceivesLatest(t *testing.T) {
	p := NewProjection()
	ch, cancel := p.Watch()
	defer cancel()

	p.SetState(StateConnecting)
	p.SetState(StateConnected)

	// The watcher is coalescing: it may skip intermediates but must end on
	// the latest snapshot.
	var last Snapshot
	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-ch:
			last = snap
			if last.State == StateConnected {
				return
			}
		case <-deadline:
			t.Fatalf("last state = %q, want %q", last.State, StateConnected)
		}
	}
}

func TestProjectionWatchCancelStopsDelivery(t *testing.T) {
	p := NewProjection()
	ch, cancel := p.Watch()
	cancel()

	p.SetState(StateConnected)
	select {
	case snap, ok := <-ch:
		if ok && snap.State == StateConnected {
			t.Fatalf("cancelled watcher still received %+v", snap)
		}
	default:
	}
}
