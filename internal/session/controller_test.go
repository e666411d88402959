package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbrandolini/cookalong/internal/agent"
	"github.com/mbrandolini/cookalong/internal/audio"
)

type fakeCapability struct {
	mu         sync.Mutex
	starts     int
	terminates int
	sends      int
	startErr   error
	termErr    error
	termGate   chan struct{}
	handlers   agent.Handlers
}

func (f *fakeCapability) Start(_ context.Context, token string, opts agent.StartOptions) error {
	if token == "" {
		return agent.ErrMissingToken
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.handlers = opts.Handlers
	return nil
}

func (f *fakeCapability) Terminate(context.Context) error {
	f.mu.Lock()
	gate := f.termGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates++
	return f.termErr
}

func (f *fakeCapability) SendAudio([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return nil
}

func (f *fakeCapability) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeCapability) terminateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminates
}

func (f *fakeCapability) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func (f *fakeCapability) callbacks() agent.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

type fakeExchanger struct {
	mu    sync.Mutex
	token string
	err   error
	gate  chan struct{}
	calls int
}

func (f *fakeExchanger) Exchange(context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	token, err := f.token, f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return token, err
}

type deniedProbe struct{}

func (deniedProbe) Acquire(context.Context) error { return audio.ErrPermissionDenied }

func newTestController(cap *fakeCapability, ex *fakeExchanger) *Controller {
	if ex.token == "" && ex.err == nil {
		ex.token = "tok"
	}
	return NewController(Options{
		Capability:        cap,
		Exchanger:         ex,
		CleanupGrace:      20 * time.Millisecond,
		KeepAliveInterval: 10 * time.Millisecond,
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestConnectSecondCallWhileConnectingIsNoOp(t *testing.T) {
	cap := &fakeCapability{}
	ex := &fakeExchanger{token: "tok", gate: make(chan struct{})}
	c := newTestController(cap, ex)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()

	waitFor(t, func() bool {
		ex.mu.Lock()
		defer ex.mu.Unlock()
		return ex.calls == 1
	}, "first connect to reach token exchange")

	// Second call while the first is suspended must return immediately.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	close(ex.gate)
	if err := <-errCh; err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := cap.startCount(); got != 1 {
		t.Fatalf("start count = %d, want 1", got)
	}
}

func TestConnectBackToBackSynchronous(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	// Back-to-back completed connects are each real attempts; the guard only
	// collapses overlapping ones. Both must have awaited start though.
	if got := cap.startCount(); got != 2 {
		t.Fatalf("start count = %d, want 2", got)
	}
}

func TestUnmountRemountWithinGraceKeepsSession(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.Unmount()
	c.Mount()

	time.Sleep(80 * time.Millisecond)
	if got := cap.terminateCount(); got != 0 {
		t.Fatalf("terminate count = %d, want 0 after remount within grace", got)
	}
	if got := cap.startCount(); got != 1 {
		t.Fatalf("start count = %d, want 1", got)
	}
}

func TestUnmountWithoutRemountTerminatesOnce(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.Unmount()

	waitFor(t, func() bool { return cap.terminateCount() == 1 }, "delayed cleanup to terminate")
	time.Sleep(50 * time.Millisecond)
	if got := cap.terminateCount(); got != 1 {
		t.Fatalf("terminate count = %d, want exactly 1", got)
	}
}

func TestDelayedCleanupProjectsDisconnected(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	cap.callbacks().OnConnect()
	c.Unmount()

	waitFor(t, func() bool { return cap.terminateCount() == 1 }, "delayed cleanup to terminate")
	// A reader returning after the grace must see the session as dead, not a
	// stale connected snapshot.
	waitFor(t, func() bool { return c.Snapshot().State == StateDisconnected }, "snapshot to reflect the teardown")
}

func TestConnectSupersedesScheduledCleanup(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.Unmount()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if got := cap.terminateCount(); got != 0 {
		t.Fatalf("terminate count = %d, want 0 when a new connect superseded cleanup", got)
	}
}

func TestStaleContinuationNeverMutatesProjection(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	stale := cap.callbacks()
	stale.OnConnect()
	stale.OnMessage(agent.Message{Source: agent.SourceAgent, Text: "old line"})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	before := c.Snapshot()

	// Callbacks from the superseded attempt must be discarded wholesale.
	stale.OnConnect()
	stale.OnMessage(agent.Message{Source: agent.SourceAgent, Text: "ghost"})
	stale.OnSpeakingChange(agent.ModeSpeaking)
	stale.OnError("boom")

	after := c.Snapshot()
	if after.State != before.State {
		t.Fatalf("state = %q, want unchanged %q", after.State, before.State)
	}
	if len(after.Transcript) != len(before.Transcript) {
		t.Fatalf("transcript length = %d, want unchanged %d", len(after.Transcript), len(before.Transcript))
	}
	if after.Speaking {
		t.Fatalf("speaking = true, want untouched false")
	}
}

func TestDisconnectReachesDisconnectedWhenTerminateFails(t *testing.T) {
	cap := &fakeCapability{termErr: errors.New("channel already closed")}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("state = %q, want %q", got, StateDisconnected)
	}
}

func TestConnectAwaitsOutstandingTeardown(t *testing.T) {
	cap := &fakeCapability{termGate: make(chan struct{})}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	discDone := make(chan struct{})
	go func() {
		_ = c.Disconnect(context.Background())
		close(discDone)
	}()
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.teardown != nil
	}, "teardown handle to be outstanding")

	connDone := make(chan struct{})
	go func() {
		_ = c.Connect(context.Background())
		close(connDone)
	}()

	time.Sleep(30 * time.Millisecond)
	if got := cap.startCount(); got != 1 {
		t.Fatalf("start count = %d while teardown in flight, want 1", got)
	}

	close(cap.termGate)
	<-discDone
	<-connDone

	waitFor(t, func() bool { return cap.startCount() == 2 }, "second start after teardown settles")
}

func TestTranscriptClearedOncePerConnect(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h := cap.callbacks()
	h.OnConnect()
	h.OnMessage(agent.Message{Source: agent.SourceAgent, Text: "Welcome"})
	if got := len(c.Snapshot().Transcript); got != 1 {
		t.Fatalf("transcript length = %d, want 1", got)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if got := len(c.Snapshot().Transcript); got != 0 {
		t.Fatalf("transcript length = %d after reconnect, want 0", got)
	}
}

func TestConnectedWithTwoMessages(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h := cap.callbacks()
	h.OnConnect()
	h.OnMessage(agent.Message{Source: agent.SourceAgent, Text: "Welcome"})
	h.OnMessage(agent.Message{Source: agent.SourceUser, Text: "hi"})

	snap := c.Snapshot()
	if snap.State != StateConnected {
		t.Fatalf("state = %q, want %q", snap.State, StateConnected)
	}
	if len(snap.Transcript) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(snap.Transcript))
	}
	if snap.Transcript[0].Speaker != "agent" || snap.Transcript[0].Text != "Welcome" {
		t.Fatalf("first entry = %+v", snap.Transcript[0])
	}
	if snap.Transcript[1].Speaker != "user" || snap.Transcript[1].Text != "hi" {
		t.Fatalf("second entry = %+v", snap.Transcript[1])
	}
}

func TestPermissionDeniedFailsWithoutStart(t *testing.T) {
	cap := &fakeCapability{}
	ex := &fakeExchanger{token: "tok"}
	c := NewController(Options{
		Capability:   cap,
		Exchanger:    ex,
		Probe:        deniedProbe{},
		CleanupGrace: 20 * time.Millisecond,
	})

	err := c.Connect(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Connect() error = %v, want ErrPermissionDenied", err)
	}
	snap := c.Snapshot()
	if snap.State != StateError || snap.ErrorCode != CodePermissionDenied {
		t.Fatalf("snapshot = %+v, want error state with %q", snap, CodePermissionDenied)
	}
	if len(snap.Transcript) != 0 {
		t.Fatalf("transcript length = %d, want 0", len(snap.Transcript))
	}
	if got := cap.startCount(); got != 0 {
		t.Fatalf("start count = %d, want 0", got)
	}
}

func TestTokenExchangeFailureSetsError(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{err: errors.New("upstream 500")})

	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("Connect() error = nil, want failure")
	}
	snap := c.Snapshot()
	if snap.State != StateError || snap.ErrorCode != CodeTokenExchangeFailed {
		t.Fatalf("snapshot = %+v, want error state with %q", snap, CodeTokenExchangeFailed)
	}
	if got := cap.startCount(); got != 0 {
		t.Fatalf("start count = %d, want 0", got)
	}
}

func TestSpuriousDisconnectIgnored(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h := cap.callbacks()
	h.OnConnect()
	h.OnDisconnect()

	if got := c.Snapshot().State; got != StateConnected {
		t.Fatalf("state = %q after spurious disconnect, want %q", got, StateConnected)
	}
}

func TestDisconnectNotRevertedByLateCallback(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h := cap.callbacks()
	h.OnConnect()
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	h.OnDisconnect()

	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("state = %q, want %q", got, StateDisconnected)
	}
}

func TestExpectedClosureErrorSuppressed(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h := cap.callbacks()
	h.OnConnect()

	h.OnError("websocket: close 1000 (normal closure)")
	if got := c.Snapshot().State; got != StateConnected {
		t.Fatalf("state = %q after expected closure, want %q", got, StateConnected)
	}

	h.OnError("agent misconfigured")
	snap := c.Snapshot()
	if snap.State != StateError || snap.ErrorCode != CodeCapabilityError {
		t.Fatalf("snapshot = %+v, want error state with %q", snap, CodeCapabilityError)
	}
}

func TestCapabilityErrorSuppressedDuringTeardown(t *testing.T) {
	cap := &fakeCapability{termGate: make(chan struct{})}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h := cap.callbacks()
	h.OnConnect()

	discDone := make(chan struct{})
	go func() {
		_ = c.Disconnect(context.Background())
		close(discDone)
	}()
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.teardown != nil
	}, "teardown handle to be outstanding")

	// Closing the upstream channel mid-teardown produces error callbacks that
	// must not surface as a session failure.
	h.OnError("boom")
	if got := c.Snapshot().State; got == StateError {
		t.Fatalf("state = %q, want teardown noise suppressed", got)
	}

	close(cap.termGate)
	<-discDone
	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("state = %q after teardown, want %q", got, StateDisconnected)
	}
}

func TestKeepAliveFeedsSilenceWhileHidden(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	cap.callbacks().OnConnect()

	c.SetHidden(true)
	waitFor(t, func() bool { return cap.sendCount() > 0 }, "keep-alive silence frames")

	c.SetHidden(false)
	settled := cap.sendCount()
	time.Sleep(50 * time.Millisecond)
	if got := cap.sendCount(); got > settled+1 {
		t.Fatalf("send count kept growing after visible: %d -> %d", settled, got)
	}
}

func TestForwardAudioDroppedUnlessConnected(t *testing.T) {
	cap := &fakeCapability{}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.ForwardAudio([]byte{1, 2}); err != nil {
		t.Fatalf("ForwardAudio() error = %v", err)
	}
	if got := cap.sendCount(); got != 0 {
		t.Fatalf("send count = %d before connect, want 0", got)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	cap.callbacks().OnConnect()
	if err := c.ForwardAudio([]byte{1, 2}); err != nil {
		t.Fatalf("ForwardAudio() error = %v", err)
	}
	if got := cap.sendCount(); got != 1 {
		t.Fatalf("send count = %d, want 1", got)
	}
}

func TestShutdownSwallowsTerminateFailure(t *testing.T) {
	cap := &fakeCapability{termErr: errors.New("already gone")}
	c := newTestController(cap, &fakeExchanger{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.Shutdown(context.Background())
	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("state = %q, want %q", got, StateDisconnected)
	}
}
