// Package session implements the realtime voice session client.
//
// A [Client] owns one connection attempt end to end: the audio processing
// graph, the transport channel, the handshake with the remote model, and the
// pending queues that bridge the gap between "transport open" and "session
// ready". Host applications drive it through [Client.Connect] and
// [Client.Disconnect] and observe it through the callback surface in
// [Callbacks]; everything else — batching, flushing, rate limiting, metering,
// teardown — is internal.
//
// The client treats interleaved text, audio, and image context as a single
// ordered multimodal stream: data produced before the session is ready is
// queued, never dropped or reordered, and flushed in original order once the
// remote handshake completes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/transport"
)

// State is the connection phase of a [Client].
type State int

const (
	// StateIdle is the initial phase, before any connect.
	StateIdle State = iota

	// StateConnecting covers dialing and the pending handshake.
	StateConnecting

	// StateConnected means the remote handshake completed and the session
	// is ready.
	StateConnected

	// StateError is the faulted terminal phase.
	StateError

	// StateDisconnected is the clean terminal phase.
	StateDisconnected
)

// String returns the phase name as reported to the host UI.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Flush and handshake tuning defaults.
const (
	// DefaultFlushSettle lets the remote side register the session before
	// queued data arrives.
	DefaultFlushSettle = 200 * time.Millisecond

	// DefaultFlushBatchSize is the number of queued media frames sent per
	// flush batch.
	DefaultFlushBatchSize = 10

	// DefaultFlushBatchDelay spaces out consecutive flush batches.
	DefaultFlushBatchDelay = 50 * time.Millisecond

	// DefaultHandshakeTimeout bounds how long the client waits for the
	// session-started ack before logging a warning. The timeout is advisory:
	// a slow handshake may still complete afterwards.
	DefaultHandshakeTimeout = 20 * time.Second
)

// Callbacks is the outbound interface towards the host UI. All fields are
// optional; nil callbacks are skipped. Callbacks are invoked from the
// client's internal goroutines and must not block.
type Callbacks struct {
	// OnStateChange reports connection phase transitions.
	OnStateChange func(state State)

	// OnTranscript reports partial and final transcript fragments for both
	// conversation sides. agent carries optional agent/stage metadata.
	OnTranscript func(text string, input, final bool, agent string)

	// OnVolumeChange reports smoothed input/output signal levels in [0, 1],
	// fired continuously while a session exists — including during the
	// connecting phase.
	OnVolumeChange func(input, output float64)

	// OnToolCall handles tool invocations from the model. Returned results
	// are relayed back over the transport; a returned error is reported to
	// the model as an error-shaped result.
	OnToolCall func(ctx context.Context, calls []transport.FunctionCall) ([]transport.FunctionResult, error)
}

// Hooks are optional instrumentation points fired from the send and flush
// paths. Nil fields are skipped. Hook functions run synchronously on the
// calling goroutine and must be cheap; the app layer uses them to feed
// metric counters without the client importing any metrics machinery.
type Hooks struct {
	// FrameSent fires for every media frame delivered to the transport,
	// directly or via a flush. kind is "audio" or "image".
	FrameSent func(kind string)

	// FrameQueued fires for every media frame parked in the pending queue.
	FrameQueued func()

	// FlushBatch fires once per media batch sent during a flush.
	FlushBatch func()

	// ContextUpdate fires for every context update with its disposition:
	// "sent", "queued", or "rejected".
	ContextUpdate func(status string)

	// DecodeError fires when an inbound audio frame is dropped because its
	// payload could not be decoded.
	DecodeError func()
}

// Config configures a [Client]. Dialer is required; everything else has a
// usable zero value.
type Config struct {
	// APIKey, Model, BaseURL are passed through to the transport dialer.
	APIKey  string
	Model   string
	BaseURL string

	// Voice selects the model's speech output voice.
	Voice string

	// Locale is sent with the session handshake (e.g. "en-US").
	Locale string

	// SessionID is the externally-assigned session identifier. When empty, a
	// fresh identifier is generated per connect.
	SessionID string

	// Dialer opens the transport channel. Required.
	Dialer transport.Dialer

	// Graph configures the audio processing graph built on each connect.
	Graph audio.GraphConfig

	// Context optionally shares session context (research blob, location,
	// session id) with other host components. The client subscribes to it
	// and folds changes into its own state.
	Context *ContextStore

	// Callbacks is the outbound UI surface.
	Callbacks Callbacks

	// Hooks is the instrumentation surface. Never mutated after New.
	Hooks Hooks

	// FlushSettle, FlushBatchSize, FlushBatchDelay tune the queue flush that
	// runs when the session becomes ready. Zero values select the defaults.
	FlushSettle     time.Duration
	FlushBatchSize  int
	FlushBatchDelay time.Duration

	// HandshakeTimeout bounds the advisory handshake timer. Zero selects the
	// default.
	HandshakeTimeout time.Duration

	// RateLimitWindow and RateLimitMax bound outbound context updates.
	// Zero values select the defaults (10 per minute).
	RateLimitWindow time.Duration
	RateLimitMax    int

	// MeterInterval is the volume sampling interval. Zero selects the
	// default (~60 Hz).
	MeterInterval time.Duration
}

// ConfigUpdate is a partial configuration change applied by
// [Client.SetConfig]. Zero-valued fields are left unchanged.
type ConfigUpdate struct {
	Voice     string
	Locale    string
	Model     string
	Callbacks *Callbacks
}

// Client is the realtime voice session client. One Client serves one host
// surface (a chat view); each [Client.Connect] builds a brand-new session —
// transport, audio graph, queues — and [Client.Disconnect] tears it down on
// every exit path.
//
// All methods are safe for concurrent use. Send methods never fail on an
// unready session: data is queued while a transport exists and silently
// dropped otherwise.
type Client struct {
	cfg     Config
	limiter *RateLimiter

	mu        sync.Mutex
	state     State
	ready     bool
	flushing  bool
	sessionID string
	research  map[string]any
	location  *transport.LatLng
	stage     string

	tr      transport.Transport
	graph   *audio.Graph
	player  *audio.Player
	capture *audio.Capture
	meter   *audio.Meter

	pendingMedia []transport.MediaFrame
	pendingCtx   []transport.ContextUpdate

	handshakeTimer *time.Timer
	pumpDone       chan struct{}
}

// New creates a Client from cfg. Returns an error when no dialer is
// configured. The client does not touch the network until Connect.
func New(cfg Config) (*Client, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("session: config requires a transport dialer")
	}
	if cfg.FlushSettle <= 0 {
		cfg.FlushSettle = DefaultFlushSettle
	}
	if cfg.FlushBatchSize <= 0 {
		cfg.FlushBatchSize = DefaultFlushBatchSize
	}
	if cfg.FlushBatchDelay <= 0 {
		cfg.FlushBatchDelay = DefaultFlushBatchDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	c := &Client{
		cfg:       cfg,
		limiter:   NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		state:     StateIdle,
		sessionID: cfg.SessionID,
	}

	if cfg.Context != nil {
		cfg.Context.Subscribe(c.applySnapshot)
	}
	return c, nil
}

// applySnapshot folds a shared-context change into the client state.
func (c *Client) applySnapshot(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.SessionID != "" {
		c.sessionID = snap.SessionID
	}
	if snap.Research != nil {
		c.research = snap.Research
	}
	if snap.Location != nil {
		c.location = snap.Location
	}
}

// State returns the current connection phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the remote handshake has completed. Readiness is
// distinct from the connection phase: the transport exists before readiness,
// and sends during that gap are queued.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// SessionID returns the identifier used for the current or next session.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID assigns the session identifier forwarded with the next
// handshake.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// SetResearchContext replaces the opaque research blob forwarded with the
// next handshake.
func (c *Client) SetResearchContext(research map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.research = research
}

// SetLocation caches the geolocation pair forwarded with the next handshake.
func (c *Client) SetLocation(loc transport.LatLng) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.location = &loc
}

// SetConfig applies a partial configuration update. Changes take effect on
// the next handshake; callback changes take effect immediately.
func (c *Client) SetConfig(update ConfigUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if update.Voice != "" {
		c.cfg.Voice = update.Voice
	}
	if update.Locale != "" {
		c.cfg.Locale = update.Locale
	}
	if update.Model != "" {
		c.cfg.Model = update.Model
	}
	if update.Callbacks != nil {
		c.cfg.Callbacks = *update.Callbacks
	}
}

// Connect opens a new session: it tears down any stale audio graph, builds a
// fresh one, acquires the capture stream, dials the transport, and issues the
// session-start handshake. A second Connect while one session is active is a
// no-op.
//
// Completion means "transport opened and audio graph constructed" — readiness
// is signalled separately via OnStateChange(CONNECTED) once the remote
// handshake finishes. A missing microphone degrades the session to
// transcript-only mode instead of failing Connect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		state := c.state
		c.mu.Unlock()
		slog.Info("session: connect ignored, session already active", "state", state)
		return nil
	}
	// Sweep leftovers from a faulted or remotely-closed session before
	// building the new one.
	staleTimer := c.handshakeTimer
	staleMeter := c.meter
	staleCapture := c.capture
	staleGraph := c.graph
	staleTr := c.tr
	c.clearSessionLocked()
	c.state = StateConnecting
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	if staleTimer != nil {
		staleTimer.Stop()
	}
	if staleMeter != nil {
		staleMeter.Stop()
	}
	if staleCapture != nil {
		staleCapture.Stop()
	}
	if staleGraph != nil {
		_ = staleGraph.Teardown()
	}
	if staleTr != nil {
		_ = staleTr.Close()
	}
	c.notifyState(StateConnecting)

	graph, err := audio.Build(c.cfg.Graph)
	if err != nil {
		return c.failConnect(fmt.Errorf("session: build audio graph: %w", err))
	}
	if err := graph.AcquireCapture(ctx); err != nil {
		// Audio capture is not essential: transcripts and text still work.
		slog.Warn("session: continuing without audio capture", "err", err)
	}

	tr, err := c.cfg.Dialer.Dial(ctx, transport.Config{
		APIKey:  c.cfg.APIKey,
		Model:   c.cfg.Model,
		BaseURL: c.cfg.BaseURL,
	})
	if err != nil {
		_ = graph.Teardown()
		return c.failConnect(fmt.Errorf("session: dial transport: %w", err))
	}

	meter := audio.NewMeter(graph.InputTap(), graph.OutputTap(), c.cfg.MeterInterval, c.onVolume)
	capture := audio.NewCapture(graph, c.emitCaptureFrame)
	pumpDone := make(chan struct{})

	c.mu.Lock()
	c.tr = tr
	c.graph = graph
	c.player = audio.NewPlayer(graph)
	c.capture = capture
	c.meter = meter
	c.pumpDone = pumpDone
	req := transport.StartRequest{
		SessionID: sessionID,
		Locale:    c.cfg.Locale,
		Voice:     c.cfg.Voice,
		Research:  c.research,
		Location:  c.location,
	}
	c.mu.Unlock()

	// UI feedback stays live during the connecting phase.
	meter.Start()
	go func() {
		if err := capture.Run(context.Background()); err != nil {
			slog.Warn("session: capture pipeline ended", "err", err)
		}
	}()

	if err := tr.Start(req); err != nil {
		slog.Error("session: handshake send failed", "err", err)
		meter.Stop()
		capture.Stop()
		_ = graph.Teardown()
		_ = tr.Close()
		c.mu.Lock()
		c.clearSessionLocked()
		c.mu.Unlock()
		return c.failConnect(fmt.Errorf("session: start handshake: %w", err))
	}

	c.armHandshakeTimer(sessionID)
	go c.pump(tr, pumpDone)

	slog.Info("session: connecting", "session_id", sessionID, "voice", c.cfg.Voice, "locale", c.cfg.Locale)
	return nil
}

// failConnect moves the client to the faulted state and reports err.
func (c *Client) failConnect(err error) error {
	c.mu.Lock()
	c.state = StateError
	c.ready = false
	c.mu.Unlock()
	c.notifyState(StateError)
	return err
}

// armHandshakeTimer starts the advisory handshake timer. Expiry only logs:
// the handshake may still complete later over a slow network, so a timeout
// never forces a disconnect.
func (c *Client) armHandshakeTimer(sessionID string) {
	timeout := c.cfg.HandshakeTimeout
	timer := time.AfterFunc(timeout, func() {
		if !c.Ready() {
			slog.Warn("session: handshake still pending after timeout",
				"session_id", sessionID,
				"timeout", timeout,
			)
		}
	})
	c.mu.Lock()
	c.handshakeTimer = timer
	c.mu.Unlock()
}

// Disconnect tears the session down: handshake timer, analysis loop, audio
// graph, transport — in that order — then reports DISCONNECTED. Safe to call
// multiple times; later calls are no-ops. No operation reports success
// mid-teardown: the state callback fires only after every resource is
// released.
func (c *Client) Disconnect() {
	c.mu.Lock()
	timer := c.handshakeTimer
	meter := c.meter
	capture := c.capture
	graph := c.graph
	tr := c.tr
	wasActive := tr != nil || graph != nil
	alreadyTerminal := c.state == StateDisconnected
	c.clearSessionLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if meter != nil {
		meter.Stop()
	}
	if capture != nil {
		capture.Stop()
	}
	if graph != nil {
		_ = graph.Teardown()
	}
	if tr != nil {
		_ = tr.Close()
	}

	if wasActive && !alreadyTerminal {
		slog.Info("session: disconnected")
		c.notifyState(StateDisconnected)
	}
}

// clearSessionLocked drops every per-session resource reference and the
// pending queues. Callers must hold c.mu.
func (c *Client) clearSessionLocked() {
	c.tr = nil
	c.graph = nil
	c.player = nil
	c.capture = nil
	c.meter = nil
	c.handshakeTimer = nil
	c.ready = false
	c.flushing = false
	c.pendingMedia = nil
	c.pendingCtx = nil
	c.stage = ""
}

// ── Instrumentation hooks ─────────────────────────────────────────────────────

// frameKind maps a media MIME type to its hook kind label.
func frameKind(mimeType string) string {
	if strings.HasPrefix(mimeType, "image/") {
		return "image"
	}
	return "audio"
}

func (c *Client) hookFrameSent(mimeType string) {
	if fn := c.cfg.Hooks.FrameSent; fn != nil {
		fn(frameKind(mimeType))
	}
}

func (c *Client) hookFrameQueued() {
	if fn := c.cfg.Hooks.FrameQueued; fn != nil {
		fn()
	}
}

func (c *Client) hookFlushBatch() {
	if fn := c.cfg.Hooks.FlushBatch; fn != nil {
		fn()
	}
}

func (c *Client) hookContextUpdate(status string) {
	if fn := c.cfg.Hooks.ContextUpdate; fn != nil {
		fn(status)
	}
}

func (c *Client) hookDecodeError() {
	if fn := c.cfg.Hooks.DecodeError; fn != nil {
		fn()
	}
}

// ── Outbound sends ────────────────────────────────────────────────────────────

// SendText delivers a user text turn. Before readiness the call is a no-op:
// text turns are conversational, not part of the queued media stream.
func (c *Client) SendText(text string) {
	c.mu.Lock()
	tr := c.tr
	ok := c.ready && !c.flushing && tr != nil
	c.mu.Unlock()

	if !ok {
		slog.Debug("session: dropping text before readiness")
		return
	}
	if err := tr.SendText(text); err != nil {
		slog.Warn("session: send text failed", "err", err)
	}
}

// SendRealtimeMedia delivers one media frame (an audio chunk or a still
// image). While the session is not ready but a transport exists, frames are
// queued in FIFO order and flushed after readiness — never dropped, never
// reordered.
func (c *Client) SendRealtimeMedia(frame transport.MediaFrame) {
	c.mu.Lock()
	if c.ready && !c.flushing && c.tr != nil {
		tr := c.tr
		c.mu.Unlock()
		if err := tr.SendMedia(frame); err != nil {
			slog.Warn("session: send media failed", "err", err)
			return
		}
		c.hookFrameSent(frame.MIMEType)
		return
	}
	if c.tr != nil || c.state == StateConnecting {
		c.pendingMedia = append(c.pendingMedia, frame)
		c.mu.Unlock()
		c.hookFrameQueued()
		return
	}
	c.mu.Unlock()
}

// emitCaptureFrame is the capture pipeline's emit hook.
func (c *Client) emitCaptureFrame(mimeType, data string) {
	c.SendRealtimeMedia(transport.MediaFrame{MIMEType: mimeType, Data: data})
}

// SendContextUpdate pushes a non-audio context record. Context updates pass
// the sliding-window rate limiter first; rejected updates are dropped with a
// warning. Like media frames, updates produced before readiness are queued
// FIFO and flushed — individually, after the media queue — once ready.
func (c *Client) SendContextUpdate(update transport.ContextUpdate) {
	if allowed, reason := c.limiter.Allow(); !allowed {
		slog.Warn("session: context update dropped", "reason", reason)
		c.hookContextUpdate("rejected")
		return
	}

	c.mu.Lock()
	if c.ready && !c.flushing && c.tr != nil {
		tr := c.tr
		c.mu.Unlock()
		if err := tr.SendContextUpdate(update); err != nil {
			slog.Warn("session: send context update failed", "err", err)
			return
		}
		c.hookContextUpdate("sent")
		return
	}
	if c.tr != nil || c.state == StateConnecting {
		c.pendingCtx = append(c.pendingCtx, update)
		c.mu.Unlock()
		c.hookContextUpdate("queued")
		return
	}
	c.mu.Unlock()
}

// PendingCounts reports the depth of the two pending queues, for
// observability.
func (c *Client) PendingCounts() (media, contextUpdates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingMedia), len(c.pendingCtx)
}

// ── Event pump ────────────────────────────────────────────────────────────────

// pump dispatches inbound transport events until the event stream closes.
// One pump runs per session.
func (c *Client) pump(tr transport.Transport, done chan struct{}) {
	defer close(done)

	for ev := range tr.Events() {
		switch ev.Type {
		case transport.EventStartAck:
			slog.Debug("session: start acknowledged")
		case transport.EventSessionStarted, transport.EventSetupComplete:
			c.handleReady(tr, ev.Type)
		case transport.EventTranscript:
			c.handleTranscript(ev.Transcript)
		case transport.EventAudio:
			c.handleAudio(ev.Audio)
		case transport.EventToolCall:
			go c.handleToolCall(tr, ev.Calls)
		case transport.EventStageUpdate:
			c.mu.Lock()
			c.stage = ev.Stage
			c.mu.Unlock()
			slog.Debug("session: stage update", "stage", ev.Stage)
		case transport.EventError:
			c.handleError(ev.Err)
		}
	}

	c.handleClose(tr)
}

// handleReady marks the session ready and kicks off the pending-queue flush.
// Duplicate readiness signals (sessionStarted followed by setupComplete) are
// ignored.
func (c *Client) handleReady(tr transport.Transport, via transport.EventType) {
	c.mu.Lock()
	if c.tr != tr || c.ready {
		c.mu.Unlock()
		return
	}
	timer := c.handshakeTimer
	c.handshakeTimer = nil
	c.state = StateConnected
	c.ready = true
	c.flushing = true
	done := c.pumpDone
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	slog.Info("session: ready", "via", via.String())

	go c.flushPending(tr, done)
	c.notifyState(StateConnected)
}

// flushPending drains both pending queues to the transport after the settle
// delay: media first, in fixed-size batches with an inter-batch delay, then
// context updates individually — everything in original FIFO order. Items
// queued while the flush is running are appended behind the in-flight batch
// and drained before the flush completes.
func (c *Client) flushPending(tr transport.Transport, done chan struct{}) {
	if !sleepOrDone(c.cfg.FlushSettle, done) {
		return
	}

	for {
		c.mu.Lock()
		if c.tr != tr || !c.ready {
			c.mu.Unlock()
			return
		}
		media := c.pendingMedia
		c.pendingMedia = nil
		c.mu.Unlock()

		if len(media) == 0 {
			break
		}
		batches := splitBatches(media, c.cfg.FlushBatchSize)
		slog.Debug("session: flushing pending media", "frames", len(media), "batches", len(batches))
		sent := 0
		for i, batch := range batches {
			if i > 0 && !sleepOrDone(c.cfg.FlushBatchDelay, done) {
				return
			}
			c.hookFlushBatch()
			for _, frame := range batch {
				if err := tr.SendMedia(frame); err != nil {
					c.failFlush(tr, err, media[sent:], nil)
					return
				}
				sent++
				c.hookFrameSent(frame.MIMEType)
			}
		}
	}

	for {
		c.mu.Lock()
		if c.tr != tr || !c.ready {
			c.mu.Unlock()
			return
		}
		if len(c.pendingCtx) == 0 {
			// Nothing left in either queue: direct sends may resume.
			if len(c.pendingMedia) == 0 {
				c.flushing = false
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			// New media arrived behind the drained batch; flush it too.
			c.flushPending(tr, done)
			return
		}
		update := c.pendingCtx[0]
		c.pendingCtx = c.pendingCtx[1:]
		c.mu.Unlock()

		if err := tr.SendContextUpdate(update); err != nil {
			c.failFlush(tr, err, nil, []transport.ContextUpdate{update})
			return
		}
		c.hookContextUpdate("sent")
	}
}

// failFlush aborts the flush after a send error: unsent items go back to the
// front of their queues and the session faults. The flushing latch must not
// stay set here, or every later send would queue behind a flush that is
// never going to run again.
func (c *Client) failFlush(tr transport.Transport, err error, media []transport.MediaFrame, updates []transport.ContextUpdate) {
	slog.Warn("session: flush send failed", "err", err)

	c.mu.Lock()
	if c.tr != tr {
		c.mu.Unlock()
		return
	}
	c.pendingMedia = append(media, c.pendingMedia...)
	c.pendingCtx = append(updates, c.pendingCtx...)
	c.flushing = false
	if c.state == StateError || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.ready = false
	c.mu.Unlock()
	c.notifyState(StateError)
}

// sleepOrDone waits d, returning false when done closes first.
func sleepOrDone(d time.Duration, done chan struct{}) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-done:
		return false
	}
}

// handleTranscript forwards a transcript fragment to the host, filling in the
// current conversation stage when the fragment carries no agent metadata.
func (c *Client) handleTranscript(t *transport.Transcript) {
	if t == nil {
		return
	}
	c.mu.Lock()
	cb := c.cfg.Callbacks.OnTranscript
	agent := t.Agent
	if agent == "" {
		agent = c.stage
	}
	c.mu.Unlock()

	if cb != nil {
		cb(t.Text, t.Input, t.Final, agent)
	}
}

// handleAudio feeds one synthesised audio frame to the playback pipeline.
// Undecodable frames are logged and skipped; a bad frame must not kill the
// stream.
func (c *Client) handleAudio(frame *transport.MediaFrame) {
	if frame == nil {
		return
	}
	c.mu.Lock()
	player := c.player
	c.mu.Unlock()

	if player == nil {
		return
	}
	if err := player.Enqueue(frame.Data); err != nil {
		slog.Warn("session: dropping undecodable audio frame", "err", err)
		c.hookDecodeError()
	}
}

// handleToolCall runs the host's tool handler and relays the results back to
// the model. Handler errors become error-shaped results rather than silence:
// the model should hear that the call failed.
func (c *Client) handleToolCall(tr transport.Transport, calls []transport.FunctionCall) {
	c.mu.Lock()
	cb := c.cfg.Callbacks.OnToolCall
	c.mu.Unlock()

	if cb == nil || len(calls) == 0 {
		return
	}

	results, err := cb(context.Background(), calls)
	if err != nil {
		slog.Warn("session: tool handler failed", "err", err)
		results = make([]transport.FunctionResult, len(calls))
		for i, call := range calls {
			results[i] = transport.FunctionResult{
				ID:       call.ID,
				Name:     call.Name,
				Response: map[string]any{"error": err.Error()},
			}
		}
	}
	if len(results) == 0 {
		return
	}
	if err := tr.SendToolResponse(results); err != nil {
		slog.Warn("session: send tool response failed", "err", err)
	}
}

// handleError processes a transport error event. Rate-limit signals are
// expected noise and never fault the session; anything else moves the client
// to the ERROR state.
func (c *Client) handleError(err error) {
	if transport.IsRateLimit(err) {
		slog.Debug("session: rate limit signal from transport, ignoring", "err", err)
		return
	}

	c.mu.Lock()
	if c.state == StateError || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.ready = false
	c.mu.Unlock()

	slog.Error("session: transport error", "err", err)
	c.notifyState(StateError)
}

// handleClose reacts to the transport event stream closing. When the client
// initiated the close (Disconnect already ran) or is already faulted, this is
// a no-op.
func (c *Client) handleClose(tr transport.Transport) {
	c.mu.Lock()
	if c.tr != tr {
		c.mu.Unlock()
		return
	}
	c.ready = false
	if c.state == StateError || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	if err := tr.Err(); err != nil {
		slog.Warn("session: transport closed", "err", err)
	} else {
		slog.Info("session: transport closed by remote")
	}
	c.notifyState(StateDisconnected)
}

// onVolume is the meter's callback hook.
func (c *Client) onVolume(input, output float64) {
	c.mu.Lock()
	cb := c.cfg.Callbacks.OnVolumeChange
	c.mu.Unlock()
	if cb != nil {
		cb(input, output)
	}
}

// notifyState reports a phase transition to the host.
func (c *Client) notifyState(state State) {
	c.mu.Lock()
	cb := c.cfg.Callbacks.OnStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}
