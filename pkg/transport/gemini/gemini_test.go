package gemini_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"encoding/json"

	"github.com/coder/websocket"

	"github.com/voxline-ai/voxline/pkg/transport"
	"github.com/voxline-ai/voxline/pkg/transport/gemini"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted connection; the server closes when the test ends.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// dial opens a transport against the test server.
func dial(t *testing.T, srv *httptest.Server) transport.Transport {
	t.Helper()
	tr, err := gemini.Dialer{}.Dial(context.Background(), transport.Config{
		APIKey:  "test-api-key",
		BaseURL: wsURL(srv),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// waitEvent reads events until one of the wanted type arrives.
func waitEvent(t *testing.T, tr transport.Transport, want transport.EventType) transport.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %v", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestStart_SendsHandshakeFields(t *testing.T) {
	t.Parallel()

	type startWire struct {
		SessionStart struct {
			Model     string                 `json:"model"`
			SessionID string                 `json:"sessionId"`
			Locale    string                 `json:"locale"`
			Voice     *struct{ Name string } `json:"voice"`
			Research  map[string]any         `json:"research"`
			Location  *struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"location"`
		} `json:"sessionStart"`
	}

	got := make(chan startWire, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg startWire
		readJSON(t, conn, &msg)
		got <- msg
		writeJSON(t, conn, map[string]any{"startAck": map[string]any{}})
		writeJSON(t, conn, map[string]any{"sessionStarted": map[string]any{}})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := dial(t, srv)
	err := tr.Start(transport.StartRequest{
		SessionID: "sess-42",
		Locale:    "en-US",
		Voice:     "Aoede",
		Research:  map[string]any{"topic": "tidal power"},
		Location:  &transport.LatLng{Latitude: 52.5, Longitude: 13.4},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	msg := <-got
	if msg.SessionStart.SessionID != "sess-42" {
		t.Errorf("sessionId = %q", msg.SessionStart.SessionID)
	}
	if msg.SessionStart.Locale != "en-US" {
		t.Errorf("locale = %q", msg.SessionStart.Locale)
	}
	if msg.SessionStart.Voice == nil || msg.SessionStart.Voice.Name != "Aoede" {
		t.Errorf("voice = %+v", msg.SessionStart.Voice)
	}
	if msg.SessionStart.Location == nil || msg.SessionStart.Location.Latitude != 52.5 {
		t.Errorf("location = %+v", msg.SessionStart.Location)
	}
	if !strings.HasPrefix(msg.SessionStart.Model, "models/") {
		t.Errorf("model = %q, want models/ prefix", msg.SessionStart.Model)
	}

	waitEvent(t, tr, transport.EventStartAck)
	waitEvent(t, tr, transport.EventSessionStarted)
}

func TestSendMedia_WireFormat(t *testing.T) {
	t.Parallel()

	type mediaWire struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	got := make(chan mediaWire, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg mediaWire
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := dial(t, srv)
	err := tr.SendMedia(transport.MediaFrame{MIMEType: "audio/pcm;rate=16000", Data: "AAAA"})
	if err != nil {
		t.Fatalf("SendMedia: %v", err)
	}

	msg := <-got
	if len(msg.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("expected 1 media chunk, got %d", len(msg.RealtimeInput.MediaChunks))
	}
	chunk := msg.RealtimeInput.MediaChunks[0]
	if chunk.MIMEType != "audio/pcm;rate=16000" || chunk.Data != "AAAA" {
		t.Errorf("chunk = %+v", chunk)
	}
}

func TestReceive_AudioAndTranscripts(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "UEsN"}},
					},
				},
				"outputTranscription": map[string]any{"text": "hello there", "final": true},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "hi"},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := dial(t, srv)

	audio := waitEvent(t, tr, transport.EventAudio)
	if audio.Audio == nil || audio.Audio.Data != "UEsN" {
		t.Errorf("audio event = %+v", audio.Audio)
	}

	out := waitEvent(t, tr, transport.EventTranscript)
	if out.Transcript.Input || !out.Transcript.Final || out.Transcript.Text != "hello there" {
		t.Errorf("output transcript = %+v", out.Transcript)
	}

	in := waitEvent(t, tr, transport.EventTranscript)
	if !in.Transcript.Input || in.Transcript.Text != "hi" {
		t.Errorf("input transcript = %+v", in.Transcript)
	}
}

func TestReceive_SetupCompleteFallback(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := dial(t, srv)
	waitEvent(t, tr, transport.EventSetupComplete)
}

func TestReceive_ToolCallAndStage(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"stageUpdate": map[string]any{"stage": "research"}})
		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []map[string]any{
					{"id": "call-1", "name": "lookup", "args": map[string]any{"q": "tides"}},
				},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := dial(t, srv)

	stage := waitEvent(t, tr, transport.EventStageUpdate)
	if stage.Stage != "research" {
		t.Errorf("stage = %q", stage.Stage)
	}

	call := waitEvent(t, tr, transport.EventToolCall)
	if len(call.Calls) != 1 || call.Calls[0].Name != "lookup" || call.Calls[0].ID != "call-1" {
		t.Errorf("calls = %+v", call.Calls)
	}
}

func TestReceive_ServerError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 429, "message": "Rate limit exceeded", "status": "RESOURCE_EXHAUSTED"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := dial(t, srv)
	ev := waitEvent(t, tr, transport.EventError)
	if ev.Err == nil {
		t.Fatal("error event carries no error")
	}
	var se *transport.ServerError
	if !errors.As(ev.Err, &se) || se.Code != 429 {
		t.Errorf("err = %v", ev.Err)
	}
	if !transport.IsRateLimit(ev.Err) {
		t.Error("429 error not recognised as rate limit")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := dial(t, srv)
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Events drain and close after teardown.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-tr.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after Close")
		}
	}
}

func TestSendAfterClose_Fails(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := dial(t, srv)
	_ = tr.Close()
	if err := tr.SendText("late"); err == nil {
		t.Error("SendText after Close should fail")
	}
}
