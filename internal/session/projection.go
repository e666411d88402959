package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Projection reduces capability events into the {state, transcript, speaking}
// view. It is deliberately decoupled from connect/teardown sequencing: the
// controller decides WHETHER an event counts, the projection only records it.
type Projection struct {
	mu          sync.Mutex
	seq         uint64
	state       State
	speaking    bool
	entries     []Entry
	errorCode   string
	errorDetail string

	watchers    map[int]chan Snapshot
	nextWatcher int
}

func NewProjection() *Projection {
	return &Projection{
		state:    StateIdle,
		watchers: make(map[int]chan Snapshot),
	}
}

func (p *Projection) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Watch returns a channel that receives the latest snapshot after every
// change. Slow consumers are coalesced to the most recent snapshot, never
// blocked on. The cancel func releases the watcher.
func (p *Projection) Watch() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextWatcher
	p.nextWatcher++
	ch := make(chan Snapshot, 1)
	p.watchers[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

func (p *Projection) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	if s != StateError {
		p.errorCode = ""
		p.errorDetail = ""
	}
	if s != StateConnected {
		p.speaking = false
	}
	p.notifyLocked()
}

func (p *Projection) SetError(code, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateError
	p.speaking = false
	p.errorCode = code
	p.errorDetail = detail
	p.notifyLocked()
}

func (p *Projection) SetSpeaking(speaking bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speaking == speaking {
		return
	}
	p.speaking = speaking
	p.notifyLocked()
}

// Append records one transcript line and returns it.
func (p *Projection) Append(speaker, text string) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		EmittedAt: time.Now().UTC(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	p.notifyLocked()
	return entry
}

// Reset clears the transcript and speaking flag for a fresh connect attempt.
func (p *Projection) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
	p.speaking = false
	p.errorCode = ""
	p.errorDetail = ""
	p.notifyLocked()
}

func (p *Projection) snapshotLocked() Snapshot {
	transcript := make([]Entry, len(p.entries))
	copy(transcript, p.entries)
	return Snapshot{
		Seq:         p.seq,
		State:       p.state,
		Speaking:    p.speaking,
		Transcript:  transcript,
		ErrorCode:   p.errorCode,
		ErrorDetail: p.errorDetail,
	}
}

func (p *Projection) notifyLocked() {
	p.seq++
	snap := p.snapshotLocked()
	for _, ch := range p.watchers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot, keep the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
