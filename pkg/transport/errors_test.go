package transport_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/voxline-ai/voxline/pkg/transport"
)

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection reset"), false},
		{"message match", errors.New("server said: Rate limit exceeded"), true},
		{"quota message", errors.New("quota exceeded for model"), true},
		{"server error 429", &transport.ServerError{Code: 429, Message: "slow down"}, true},
		{"server error resource exhausted", &transport.ServerError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"server error other", &transport.ServerError{Code: 500, Message: "internal"}, false},
		{"wrapped server error", fmt.Errorf("recv: %w", &transport.ServerError{Code: 429}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transport.IsRateLimit(tt.err); got != tt.want {
				t.Errorf("IsRateLimit(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		typ  transport.EventType
		want string
	}{
		{transport.EventStartAck, "start_ack"},
		{transport.EventSessionStarted, "session_started"},
		{transport.EventSetupComplete, "setup_complete"},
		{transport.EventTranscript, "transcript"},
		{transport.EventAudio, "audio"},
		{transport.EventToolCall, "tool_call"},
		{transport.EventStageUpdate, "stage_update"},
		{transport.EventError, "error"},
		{transport.EventType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
