// Package gemini implements the transport.Transport interface over the
// Gemini Live wire protocol.
//
// It holds a bidirectional WebSocket connection to the Live endpoint and
// exchanges JSON envelope messages. Audio travels as base64-encoded PCM
// chunks inside realtimeInput messages; readiness is signalled by a
// sessionStarted ack (with setupComplete accepted as a fallback from older
// deployments).
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxline-ai/voxline/pkg/transport"
)

// Compile-time assertions that the adapter satisfies the transport interfaces.
var _ transport.Dialer = (*Dialer)(nil)
var _ transport.Transport = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	eventBuf = 64
)

// Dialer opens Gemini Live session channels.
type Dialer struct{}

// Dial connects a new session channel. The returned transport is connected
// but not started — callers issue the handshake via [transport.Transport.Start].
func (Dialer) Dial(ctx context.Context, cfg transport.Config) (transport.Transport, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		baseURL, cfg.APIKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		model:  model,
		events: make(chan transport.Event, eventBuf),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	go s.receiveLoop()
	go s.keepaliveLoop()

	return s, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type startMessage struct {
	SessionStart sessionStart `json:"sessionStart"`
}

type sessionStart struct {
	Model     string         `json:"model"`
	SessionID string         `json:"sessionId,omitempty"`
	Locale    string         `json:"locale,omitempty"`
	Voice     *voiceConfig   `json:"voice,omitempty"`
	Research  map[string]any `json:"research,omitempty"`
	Location  *location      `json:"location,omitempty"`
}

type voiceConfig struct {
	Name string `json:"name"`
}

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type contextUpdateMessage struct {
	ContextUpdate contextUpdate `json:"contextUpdate"`
}

type contextUpdate struct {
	Modality   string            `json:"modality"`
	Analysis   string            `json:"analysis,omitempty"`
	ImageData  string            `json:"imageData,omitempty"`
	CapturedAt string            `json:"capturedAt,omitempty"` // RFC 3339
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	StartAck       *json.RawMessage `json:"startAck,omitempty"`
	SessionStarted *json.RawMessage `json:"sessionStarted,omitempty"`
	SetupComplete  *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent  *serverContent   `json:"serverContent,omitempty"`
	ToolCall       *toolCallMsg     `json:"toolCall,omitempty"`
	StageUpdate    *stageUpdate     `json:"stageUpdate,omitempty"`
	Error          *serverError     `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text  string `json:"text"`
	Final bool   `json:"final,omitempty"`
	Agent string `json:"agent,omitempty"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type stageUpdate struct {
	Stage string `json:"stage"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	model  string
	events chan transport.Event

	mu     sync.Mutex
	errVal error
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	eventOnce sync.Once
}

// Start sends the session-start handshake carrying locale, voice, session id,
// and the opaque research/location context.
func (s *session) Start(req transport.StartRequest) error {
	msg := startMessage{
		SessionStart: sessionStart{
			Model:     fmt.Sprintf("models/%s", s.model),
			SessionID: req.SessionID,
			Locale:    req.Locale,
			Research:  req.Research,
		},
	}
	if req.Voice != "" {
		msg.SessionStart.Voice = &voiceConfig{Name: req.Voice}
	}
	if req.Location != nil {
		msg.SessionStart.Location = &location{
			Latitude:  req.Location.Latitude,
			Longitude: req.Location.Longitude,
		}
	}
	return s.writeJSON(msg)
}

// SendMedia delivers one realtime media frame as a mediaChunk.
func (s *session) SendMedia(frame transport.MediaFrame) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: frame.MIMEType, Data: frame.Data},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendText delivers a user text turn as clientContent.
func (s *session) SendText(text string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{
				{Role: "user", Parts: []part{{Text: text}}},
			},
			TurnComplete: true,
		},
	}
	return s.writeJSON(msg)
}

// SendContextUpdate delivers one context-update frame.
func (s *session) SendContextUpdate(update transport.ContextUpdate) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	msg := contextUpdateMessage{
		ContextUpdate: contextUpdate{
			Modality:  update.Modality,
			Analysis:  update.Analysis,
			ImageData: update.ImageData,
			Metadata:  update.Metadata,
		},
	}
	if !update.CapturedAt.IsZero() {
		msg.ContextUpdate.CapturedAt = update.CapturedAt.UTC().Format(time.RFC3339Nano)
	}
	return s.writeJSON(msg)
}

// SendToolResponse relays tool results back to the model.
func (s *session) SendToolResponse(results []transport.FunctionResult) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	responses := make([]functionResponse, len(results))
	for i, r := range results {
		responses[i] = functionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Response,
		}
	}
	msg := toolResponseMessage{
		ToolResponse: toolResponse{FunctionResponses: responses},
	}
	return s.writeJSON(msg)
}

// Events returns the inbound event stream. The channel is closed when the
// session ends; Err reports the terminal error afterwards.
func (s *session) Events() <-chan transport.Event { return s.events }

// Err returns the first error that terminated the session, or nil.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("gemini: session closed")
	}
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads wire messages and dispatches them as transport events.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Cancelled context means Close was called; exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}
		s.dispatch(&msg)
	}
}

func (s *session) dispatch(msg *serverMessage) {
	if msg.StartAck != nil {
		s.emit(transport.Event{Type: transport.EventStartAck})
	}
	if msg.SessionStarted != nil {
		s.emit(transport.Event{Type: transport.EventSessionStarted})
	}
	if msg.SetupComplete != nil {
		s.emit(transport.Event{Type: transport.EventSetupComplete})
	}
	if msg.ServerContent != nil {
		s.dispatchContent(msg.ServerContent)
	}
	if msg.ToolCall != nil {
		calls := make([]transport.FunctionCall, len(msg.ToolCall.FunctionCalls))
		for i, fc := range msg.ToolCall.FunctionCalls {
			calls[i] = transport.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
		}
		s.emit(transport.Event{Type: transport.EventToolCall, Calls: calls})
	}
	if msg.StageUpdate != nil {
		s.emit(transport.Event{Type: transport.EventStageUpdate, Stage: msg.StageUpdate.Stage})
	}
	if msg.Error != nil {
		s.emit(transport.Event{
			Type: transport.EventError,
			Err: &transport.ServerError{
				Code:    msg.Error.Code,
				Status:  msg.Error.Status,
				Message: msg.Error.Message,
			},
		})
	}
}

func (s *session) dispatchContent(sc *serverContent) {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				s.emit(transport.Event{
					Type: transport.EventAudio,
					Audio: &transport.MediaFrame{
						MIMEType: p.InlineData.MIMEType,
						Data:     p.InlineData.Data,
					},
				})
			}
			if p.Text != "" {
				s.emit(transport.Event{
					Type:       transport.EventTranscript,
					Transcript: &transport.Transcript{Text: p.Text, Final: sc.TurnComplete},
				})
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.emit(transport.Event{
			Type: transport.EventTranscript,
			Transcript: &transport.Transcript{
				Text:  sc.InputTranscription.Text,
				Input: true,
				Final: sc.InputTranscription.Final,
				Agent: sc.InputTranscription.Agent,
			},
		})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(transport.Event{
			Type: transport.EventTranscript,
			Transcript: &transport.Transcript{
				Text:  sc.OutputTranscription.Text,
				Final: sc.OutputTranscription.Final,
				Agent: sc.OutputTranscription.Agent,
			},
		})
	}
}

// emit delivers an event, giving up when the session is torn down.
func (s *session) emit(ev transport.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.eventOnce.Do(func() { close(s.events) })
}

// keepaliveLoop sends WebSocket pings so idle sessions stay alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}
