// Package mock provides scripted in-memory implementations of the transport
// interfaces for tests. The mock records every outbound frame in arrival
// order and lets tests inject inbound events at will.
package mock

import (
	"context"
	"sync"

	"github.com/voxline-ai/voxline/pkg/transport"
)

// Compile-time assertions that the mocks satisfy the transport interfaces.
var _ transport.Transport = (*Transport)(nil)
var _ transport.Dialer = (*Dialer)(nil)

// Transport is a scripted transport.Transport. All recorded state is guarded
// and safe to inspect from the test goroutine.
type Transport struct {
	// SendErr, when set, is returned by every send method.
	SendErr error

	mu          sync.Mutex
	starts      []transport.StartRequest
	media       []transport.MediaFrame
	texts       []string
	updates     []transport.ContextUpdate
	toolResults [][]transport.FunctionResult
	closeCount  int
	errVal      error

	events    chan transport.Event
	done      chan struct{}
	closeOnce sync.Once
	eventOnce sync.Once
}

// NewTransport creates an idle mock transport.
func NewTransport() *Transport {
	return &Transport{
		events: make(chan transport.Event, 256),
		done:   make(chan struct{}),
	}
}

// Start records the handshake request.
func (t *Transport) Start(req transport.StartRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.starts = append(t.starts, req)
	return nil
}

// SendMedia records one media frame.
func (t *Transport) SendMedia(frame transport.MediaFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.media = append(t.media, frame)
	return nil
}

// SendText records one text turn.
func (t *Transport) SendText(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.texts = append(t.texts, text)
	return nil
}

// SendContextUpdate records one context update.
func (t *Transport) SendContextUpdate(update transport.ContextUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.updates = append(t.updates, update)
	return nil
}

// SendToolResponse records one tool-response batch.
func (t *Transport) SendToolResponse(results []transport.FunctionResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.toolResults = append(t.toolResults, results)
	return nil
}

// Events returns the scripted event stream.
func (t *Transport) Events() <-chan transport.Event { return t.events }

// Err returns the scripted terminal error.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errVal
}

// Close records the call and closes the event stream. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closeCount++
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.done) })
	t.CloseEvents()
	return nil
}

// ── Test controls ─────────────────────────────────────────────────────────────

// Emit injects one inbound event.
func (t *Transport) Emit(ev transport.Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// CloseEvents closes the event stream, simulating a remote close. Safe to
// call multiple times.
func (t *Transport) CloseEvents() {
	t.eventOnce.Do(func() { close(t.events) })
}

// SetSendErr scripts the error returned by subsequent send methods. Safe to
// call while the transport is in use.
func (t *Transport) SetSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SendErr = err
}

// SetErr scripts the terminal error reported by Err.
func (t *Transport) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errVal = err
}

// Starts returns the recorded handshake requests.
func (t *Transport) Starts() []transport.StartRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.StartRequest, len(t.starts))
	copy(out, t.starts)
	return out
}

// Media returns the recorded media frames in send order.
func (t *Transport) Media() []transport.MediaFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.MediaFrame, len(t.media))
	copy(out, t.media)
	return out
}

// Texts returns the recorded text turns in send order.
func (t *Transport) Texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.texts))
	copy(out, t.texts)
	return out
}

// Updates returns the recorded context updates in send order.
func (t *Transport) Updates() []transport.ContextUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.ContextUpdate, len(t.updates))
	copy(out, t.updates)
	return out
}

// ToolResults returns the recorded tool-response batches.
func (t *Transport) ToolResults() [][]transport.FunctionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]transport.FunctionResult, len(t.toolResults))
	copy(out, t.toolResults)
	return out
}

// CloseCount reports how many times Close has been called.
func (t *Transport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

// Dialer hands out mock transports and counts dials.
type Dialer struct {
	// DialErr, when set, fails every Dial.
	DialErr error

	mu         sync.Mutex
	transports []*Transport
}

// NewDialer creates an empty mock dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial returns a fresh mock transport and records it.
func (d *Dialer) Dial(_ context.Context, _ transport.Config) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	t := NewTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

// Transports returns every transport handed out so far.
func (d *Dialer) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Transport, len(d.transports))
	copy(out, d.transports)
	return out
}

// DialCount reports how many sessions have been dialled.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}
