package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbrandolini/cookalong/internal/agent"
	"github.com/mbrandolini/cookalong/internal/audio"
	"github.com/mbrandolini/cookalong/internal/observability"
	"github.com/mbrandolini/cookalong/internal/reliability"
)

const (
	defaultCleanupGrace      = 120 * time.Millisecond
	defaultKeepAliveInterval = 5 * time.Second
	defaultSampleRate        = 16000
	teardownTimeout          = 5 * time.Second
)

// Options configures a Controller. Capability and Exchanger are required;
// everything else has a working default.
type Options struct {
	Capability agent.Capability
	Exchanger  agent.TokenExchanger
	Probe      audio.InputProbe
	Primer     audio.OutputPrimer

	SystemInstructions string
	OpeningUtterance   string
	Language           string

	CleanupGrace      time.Duration
	KeepAliveInterval time.Duration
	SampleRate        int

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Controller owns exactly one logical "attempt to be connected" at a time.
// Connect attempts are identified by a monotonic generation; an attempt
// becomes stale the instant a higher generation is minted, and every async
// continuation re-checks its generation before touching shared state.
type Controller struct {
	capability agent.Capability
	exchanger  agent.TokenExchanger
	probe      audio.InputProbe
	primer     audio.OutputPrimer
	projection *Projection

	instructions string
	opening      string
	language     string

	cleanupGrace      time.Duration
	keepAliveInterval time.Duration
	sampleRate        int

	metrics *observability.Metrics
	logger  *slog.Logger

	mu            sync.Mutex
	generation    uint64
	connecting    bool
	connectingGen uint64
	teardown      chan struct{}
	userStop      bool
	cleanupTimer  *time.Timer
	hidden        bool
	keepAlive     chan struct{}
}

func NewController(opts Options) *Controller {
	if opts.Probe == nil {
		opts.Probe = audio.PassthroughProbe{}
	}
	if opts.Primer == nil {
		opts.Primer = audio.PassthroughPrimer{}
	}
	if opts.CleanupGrace <= 0 {
		opts.CleanupGrace = defaultCleanupGrace
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = defaultKeepAliveInterval
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		capability:        opts.Capability,
		exchanger:         opts.Exchanger,
		probe:             opts.Probe,
		primer:            opts.Primer,
		projection:        NewProjection(),
		instructions:      opts.SystemInstructions,
		opening:           opts.OpeningUtterance,
		language:          opts.Language,
		cleanupGrace:      opts.CleanupGrace,
		keepAliveInterval: opts.KeepAliveInterval,
		sampleRate:        opts.SampleRate,
		metrics:           opts.Metrics,
		logger:            opts.Logger.With("component", "session.controller"),
	}
}

// Projection exposes the derived view for snapshot reads and watchers.
func (c *Controller) Projection() *Projection { return c.projection }

// Snapshot is a convenience for c.Projection().Snapshot().
func (c *Controller) Snapshot() Snapshot { return c.projection.Snapshot() }

// Connect runs the full connect sequence: permission probe, best-effort
// output unlock, token exchange, capability start. A second call while one
// is in progress is a no-op. The attempt aborts silently at the next
// checkpoint when a newer attempt or a teardown supersedes it.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.connectingGen = 0
	c.userStop = false
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
		c.cleanupTimer = nil
	}
	teardown := c.teardown
	c.mu.Unlock()

	c.projection.Reset()
	c.projection.SetState(StateConnecting)

	// Previous teardown must fully settle before a new attempt is minted.
	if teardown != nil {
		select {
		case <-teardown:
		case <-ctx.Done():
			// The settling teardown sets disconnected; leave state to it.
			c.clearConnecting(0)
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.generation++
	g := c.generation
	c.connectingGen = g
	c.mu.Unlock()

	started := time.Now()

	stageStart := time.Now()
	if err := c.probe.Acquire(ctx); err != nil {
		return c.fail(g, CodePermissionDenied, err)
	}
	c.observeStage(observability.StagePermission, time.Since(stageStart))

	stageStart = time.Now()
	if err := c.primer.Prime(ctx); err != nil {
		// Output unlock is best-effort and never fails the attempt.
		c.logger.Debug("audio unlock failed", "error", err)
	}
	c.observeStage(observability.StageAudioUnlock, time.Since(stageStart))

	if c.superseded(g) {
		c.abortStale(g)
		return nil
	}

	stageStart = time.Now()
	token, err := c.exchanger.Exchange(ctx)
	if err != nil {
		return c.fail(g, CodeTokenExchangeFailed, err)
	}
	c.observeStage(observability.StageTokenExchange, time.Since(stageStart))

	if c.superseded(g) {
		c.abortStale(g)
		return nil
	}

	stageStart = time.Now()
	err = c.capability.Start(ctx, token, agent.StartOptions{
		SystemInstructions: c.instructions,
		OpeningUtterance:   c.opening,
		Language:           c.language,
		Handlers:           c.handlersFor(g),
	})
	if err != nil {
		return c.fail(g, CodeCapabilityStartFailed, err)
	}
	c.observeStage(observability.StageCapabilityStart, time.Since(stageStart))
	c.observeStage(observability.StageConnectTotal, time.Since(started))
	c.countAttempt("ok")

	c.clearConnecting(g)
	return nil
}

// Disconnect is user-intentional termination. The terminate call is wrapped
// in the teardown handle so a concurrent Connect waits on it, and a terminate
// failure on an already-closed channel is tolerated. State always reaches
// disconnected once the teardown settles.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.userStop = true
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
		c.cleanupTimer = nil
	}
	if c.teardown != nil {
		done := c.teardown
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.projection.SetState(StateDisconnected)
		return nil
	}
	done := make(chan struct{})
	c.teardown = done
	c.mu.Unlock()

	c.stopKeepAlive()

	if err := c.capability.Terminate(ctx); err != nil && !errors.Is(err, agent.ErrNotStarted) {
		c.logger.Debug("terminate failed", "error", err)
	}

	c.mu.Lock()
	if c.teardown == done {
		c.teardown = nil
	}
	c.mu.Unlock()
	close(done)

	c.projection.SetState(StateDisconnected)
	c.countSessionEvent("disconnect")
	return nil
}

// Mount cancels any delayed cleanup left over from a previous Unmount.
func (c *Controller) Mount() {
	c.mu.Lock()
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
		c.cleanupTimer = nil
		c.indicator("grace_remount")
	}
	c.mu.Unlock()
	c.countSessionEvent("mount")
}

// Unmount schedules a delayed teardown recording the current generation.
// A remount within the grace cancels it; a new connect supersedes it via the
// generation fence.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
	}
	g := c.generation
	c.cleanupTimer = time.AfterFunc(c.cleanupGrace, func() { c.expireCleanup(g) })
	c.mu.Unlock()
	c.countSessionEvent("unmount")
}

// Shutdown is the unload path: best-effort terminate, all failures ignored.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.userStop = true
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
		c.cleanupTimer = nil
	}
	c.mu.Unlock()

	c.stopKeepAlive()
	_ = c.capability.Terminate(ctx)
	c.projection.SetState(StateDisconnected)
	c.countSessionEvent("shutdown")
}

// SetHidden tracks page visibility. While connected and hidden, silence
// frames flow through the capability to keep the audio pipeline from being
// reclaimed; the feeder stops on visible or session end and never surfaces
// failures.
func (c *Controller) SetHidden(hidden bool) {
	c.mu.Lock()
	c.hidden = hidden
	if !hidden {
		stop := c.keepAlive
		c.keepAlive = nil
		c.mu.Unlock()
		if stop != nil {
			close(stop)
		}
		return
	}
	if c.keepAlive == nil && c.projection.Snapshot().State == StateConnected {
		stop := make(chan struct{})
		c.keepAlive = stop
		go c.runKeepAlive(stop)
	}
	c.mu.Unlock()
}

// ReportMicPermission mirrors the browser-reported microphone permission
// into the probe, when the controller was built with a remote probe.
func (c *Controller) ReportMicPermission(granted bool) {
	if rp, ok := c.probe.(*audio.RemoteProbe); ok {
		rp.Report(granted)
	}
}

// ForwardAudio relays one mic chunk to the capability while connected.
// Chunks arriving in any other state are dropped.
func (c *Controller) ForwardAudio(pcm []byte) error {
	if c.projection.Snapshot().State != StateConnected {
		return nil
	}
	if err := c.capability.SendAudio(pcm); err != nil && !errors.Is(err, agent.ErrNotStarted) {
		return fmt.Errorf("forward audio: %w", err)
	}
	return nil
}

func (c *Controller) handlersFor(g uint64) agent.Handlers {
	return agent.Handlers{
		OnConnect:        func() { c.onConnect(g) },
		OnDisconnect:     func() { c.onDisconnect(g) },
		OnError:          func(msg string) { c.onCapabilityError(g, msg) },
		OnMessage:        func(m agent.Message) { c.onMessage(g, m) },
		OnSpeakingChange: func(mode agent.Mode) { c.onSpeaking(g, mode) },
	}
}

func (c *Controller) onConnect(g uint64) {
	c.mu.Lock()
	if c.generation != g {
		c.mu.Unlock()
		c.indicator("stale_continuation")
		return
	}
	startKeepAlive := c.hidden && c.keepAlive == nil
	var stop chan struct{}
	if startKeepAlive {
		stop = make(chan struct{})
		c.keepAlive = stop
	}
	c.mu.Unlock()

	c.projection.SetState(StateConnected)
	c.countCapabilityEvent("connect")
	if startKeepAlive {
		go c.runKeepAlive(stop)
	}
}

func (c *Controller) onDisconnect(g uint64) {
	c.mu.Lock()
	stale := c.generation != g
	userStop := c.userStop
	c.mu.Unlock()

	if stale {
		c.indicator("stale_continuation")
		return
	}
	c.countCapabilityEvent("disconnect")
	if !userStop {
		// Artifact of the delayed-teardown dance; the next real transition
		// corrects the state.
		return
	}
	c.projection.SetState(StateDisconnected)
}

func (c *Controller) onCapabilityError(g uint64, msg string) {
	c.mu.Lock()
	stale := c.generation != g
	tearingDown := c.teardown != nil
	c.mu.Unlock()

	if stale || tearingDown || reliability.IsExpectedClosure(msg) {
		c.logger.Debug("suppressed capability error", "error", msg)
		c.countCapabilityEvent("suppressed_error")
		return
	}
	c.countCapabilityEvent("error")
	c.projection.SetError(CodeCapabilityError, msg)
}

func (c *Controller) onMessage(g uint64, m agent.Message) {
	c.mu.Lock()
	stale := c.generation != g
	c.mu.Unlock()
	if stale {
		c.indicator("stale_continuation")
		return
	}
	c.countCapabilityEvent("message")
	c.projection.Append(string(m.Source), m.Text)
}

func (c *Controller) onSpeaking(g uint64, mode agent.Mode) {
	c.mu.Lock()
	stale := c.generation != g
	c.mu.Unlock()
	if stale {
		return
	}
	c.projection.SetSpeaking(mode == agent.ModeSpeaking)
}

// superseded reports whether attempt g lost ownership: a newer generation
// was minted or a teardown is in flight.
func (c *Controller) superseded(g uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != g || c.teardown != nil
}

func (c *Controller) abortStale(g uint64) {
	c.clearConnecting(g)
	c.indicator("stale_continuation")
}

// clearConnecting resets the connecting flag only when attempt g still owns
// it, so a stale continuation cannot clear a newer attempt's flag.
func (c *Controller) clearConnecting(g uint64) {
	c.mu.Lock()
	if c.connectingGen == g && c.connecting {
		c.connecting = false
	}
	c.mu.Unlock()
}

func (c *Controller) fail(g uint64, code string, err error) error {
	c.mu.Lock()
	current := c.generation == g && c.teardown == nil
	if c.connectingGen == g && c.connecting {
		c.connecting = false
	}
	c.mu.Unlock()

	c.logger.Warn("connect failed", "code", code, "error", err)
	if current {
		c.projection.SetError(code, err.Error())
		c.countAttempt(code)
	}
	return fmt.Errorf("%s: %w", code, err)
}

func (c *Controller) expireCleanup(g uint64) {
	c.mu.Lock()
	c.cleanupTimer = nil
	if c.generation != g || c.teardown != nil {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.teardown = done
	c.mu.Unlock()

	c.stopKeepAlive()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := c.capability.Terminate(ctx); err != nil && !errors.Is(err, agent.ErrNotStarted) {
		c.logger.Debug("cleanup terminate failed", "error", err)
	}

	c.mu.Lock()
	if c.teardown == done {
		c.teardown = nil
	}
	c.mu.Unlock()
	close(done)

	// This is a real teardown: a returning reader must not find a
	// live-looking snapshot of a dead voice session.
	if c.projection.Snapshot().State == StateConnected {
		c.projection.SetState(StateDisconnected)
	}
	c.countSessionEvent("cleanup")
}

func (c *Controller) runKeepAlive(stop chan struct{}) {
	frame := audio.Silence(c.keepAliveInterval, c.sampleRate)
	ticker := time.NewTicker(c.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.projection.Snapshot().State != StateConnected {
				continue
			}
			_ = c.capability.SendAudio(frame)
		}
	}
}

func (c *Controller) stopKeepAlive() {
	c.mu.Lock()
	stop := c.keepAlive
	c.keepAlive = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (c *Controller) observeStage(stage string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveConnectStage(stage, d)
	}
}

func (c *Controller) countAttempt(outcome string) {
	if c.metrics != nil {
		c.metrics.ConnectAttempts.WithLabelValues(outcome).Inc()
	}
}

func (c *Controller) countSessionEvent(event string) {
	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (c *Controller) countCapabilityEvent(kind string) {
	if c.metrics != nil {
		c.metrics.CapabilityEvents.WithLabelValues(kind).Inc()
	}
}

func (c *Controller) indicator(name string) {
	if c.metrics != nil {
		c.metrics.ObserveConnectIndicator(name)
	}
}
