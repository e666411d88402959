package audio

import (
	"context"
	"errors"
	"sync"
)

var ErrPermissionDenied = errors.New("microphone permission denied")

// InputProbe confirms microphone availability before a session starts. The
// probe releases the device immediately; the voice capability requests its
// own handle once connected.
type InputProbe interface {
	Acquire(ctx context.Context) error
}

// OutputPrimer unlocks the audio output path. Failures are advisory: a
// session can proceed without a primed output, it just risks losing the
// opening utterance on throttled clients.
type OutputPrimer interface {
	Prime(ctx context.Context) error
}

// PassthroughProbe reports the microphone as available without touching any
// device. Used server-side, where the browser performs the real permission
// prompt and forwards the result with its connect intent.
type PassthroughProbe struct{}

func (PassthroughProbe) Acquire(context.Context) error { return nil }

// PassthroughPrimer is the matching no-op output unlock.
type PassthroughPrimer struct{}

func (PassthroughPrimer) Prime(context.Context) error { return nil }

// RemoteProbe mirrors the microphone permission state reported by a remote
// presentation layer. Until the client reports anything, permission is
// assumed granted so that non-browser clients (probes, tests) can connect.
type RemoteProbe struct {
	mu       sync.Mutex
	reported bool
	granted  bool
}

func NewRemoteProbe() *RemoteProbe { return &RemoteProbe{} }

// Report records the latest permission outcome from the client.
func (p *RemoteProbe) Report(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reported = true
	p.granted = granted
}

func (p *RemoteProbe) Acquire(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reported && !p.granted {
		return ErrPermissionDenied
	}
	return nil
}
