// Package transport defines the bidirectional session channel between a
// Voxline client and the remote speech/vision model.
//
// A [Transport] carries a time-ordered multimodal stream: realtime media
// frames, text turns, context updates, and tool responses flow outbound;
// transcripts, synthesised audio, tool calls, stage updates, and lifecycle
// events flow inbound on the [Transport.Events] channel. Adapter packages
// (e.g. transport/gemini) implement the interface over a concrete wire
// protocol; transport/mock provides a scripted in-memory implementation for
// session tests.
//
// All implementations must be safe for concurrent use.
package transport

import (
	"context"
	"time"
)

// MediaFrame is one chunk of realtime media — audio or a still image — as a
// (mime type, base64 payload) pair. Frames are immutable once constructed and
// their relative order is significant: they represent a time-ordered stream.
type MediaFrame struct {
	// MIMEType identifies the payload (e.g. "audio/pcm;rate=16000", "image/jpeg").
	MIMEType string

	// Data is the base64-encoded payload.
	Data string
}

// ContextUpdate is a non-audio context record pushed to the remote session:
// conversation history summaries, location, research snapshots, and similar.
type ContextUpdate struct {
	// Modality tags the kind of context (e.g. "text", "image", "location").
	Modality string

	// Analysis is the human-readable description of the context.
	Analysis string

	// ImageData is an optional base64-encoded image payload.
	ImageData string

	// CapturedAt is when the context was captured. Zero means unknown.
	CapturedAt time.Time

	// Metadata carries free-form key/value pairs forwarded verbatim.
	Metadata map[string]string
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResult is the host's answer to a [FunctionCall], relayed back to
// the model as a tool-response frame.
type FunctionResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// Transcript is one partial or final transcript fragment, for either side of
// the conversation.
type Transcript struct {
	// Text is the transcript fragment.
	Text string

	// Input is true for user-side speech recognition, false for model output.
	Input bool

	// Final is true once the fragment will no longer be revised.
	Final bool

	// Agent optionally identifies the responding agent or conversation stage.
	Agent string
}

// LatLng is a cached geolocation pair forwarded with the session handshake.
type LatLng struct {
	Latitude  float64
	Longitude float64
}

// StartRequest is the session-start handshake issued once the transport is
// connected. The research blob is opaque to the transport and forwarded
// verbatim.
type StartRequest struct {
	SessionID string
	Locale    string
	Voice     string
	Research  map[string]any
	Location  *LatLng
}

// EventType classifies inbound events delivered on [Transport.Events].
type EventType int

const (
	// EventStartAck acknowledges receipt of the session-start request.
	EventStartAck EventType = iota

	// EventSessionStarted signals that the remote session is fully
	// established and ready to receive media.
	EventSessionStarted

	// EventSetupComplete is the fallback readiness signal some deployments
	// send instead of EventSessionStarted. Clients treat it as equivalent.
	EventSetupComplete

	// EventTranscript carries a transcript fragment.
	EventTranscript

	// EventAudio carries one synthesised audio frame.
	EventAudio

	// EventToolCall carries one or more function calls from the model.
	EventToolCall

	// EventStageUpdate reports a change of conversation stage.
	EventStageUpdate

	// EventError reports a server-side error. Rate-limit errors are expected
	// noise; see [IsRateLimit].
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStartAck:
		return "start_ack"
	case EventSessionStarted:
		return "session_started"
	case EventSetupComplete:
		return "setup_complete"
	case EventTranscript:
		return "transcript"
	case EventAudio:
		return "audio"
	case EventToolCall:
		return "tool_call"
	case EventStageUpdate:
		return "stage_update"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one inbound message from the remote session. Exactly the fields
// relevant to Type are populated.
type Event struct {
	Type       EventType
	Transcript *Transcript
	Audio      *MediaFrame
	Calls      []FunctionCall
	Stage      string
	Err        error
}

// Transport is an open bidirectional session channel.
//
// The Events channel is closed when the session ends, cleanly or otherwise;
// after it closes, [Transport.Err] reports the terminal error (nil for a
// clean close). Consumers must drain Events promptly — backpressure stalls
// the adapter's receive loop.
//
// Callers must call Close when the transport is no longer needed; Close is
// idempotent.
type Transport interface {
	// Start issues the session-start handshake. Must be called once, before
	// any other send.
	Start(req StartRequest) error

	// SendMedia delivers one realtime media frame.
	SendMedia(frame MediaFrame) error

	// SendText delivers a user text turn.
	SendText(text string) error

	// SendContextUpdate delivers one context-update frame.
	SendContextUpdate(update ContextUpdate) error

	// SendToolResponse relays tool results back to the model.
	SendToolResponse(results []FunctionResult) error

	// Events returns the inbound event stream.
	Events() <-chan Event

	// Err returns the error that closed the Events channel, or nil.
	Err() error

	// Close terminates the session and releases all resources. Idempotent.
	Close() error
}

// Config is the adapter-level configuration for dialing a session channel.
type Config struct {
	// APIKey authenticates against the remote service.
	APIKey string

	// Model selects the remote model.
	Model string

	// BaseURL overrides the adapter's default endpoint. Primarily for tests.
	BaseURL string
}

// Dialer opens session channels. Implementations must be safe for concurrent
// use; a client may dial a fresh transport for every connect.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Transport, error)
}
