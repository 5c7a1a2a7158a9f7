package audio

import (
	"testing"
	"time"
)

// fakeSink records scheduled buffers and their start instants.
type fakeSink struct {
	starts []time.Time
	frames []int
	closed int
}

func (s *fakeSink) Schedule(channels [][]float32, _ int, at time.Time) error {
	s.starts = append(s.starts, at)
	s.frames = append(s.frames, len(channels[0]))
	return nil
}

func (s *fakeSink) Close() error {
	s.closed++
	return nil
}

func newTestPlayer(t *testing.T, sink PlaybackSink) (*Player, *time.Time) {
	t.Helper()
	g, err := Build(GraphConfig{
		NewSink:    func() (PlaybackSink, error) { return sink, nil },
		OutputRate: 24000,
		FrameSize:  256,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = g.Teardown() })

	p := NewPlayer(g)
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestPlayer_SchedulingMonotonic(t *testing.T) {
	sink := &fakeSink{}
	p, _ := newTestPlayer(t, sink)

	// 24000 samples at 24 kHz = 1 s per buffer. Three buffers submitted
	// back-to-back must play gapless and in order.
	payload := EncodeFrame(make([]float32, 24000))
	for range 3 {
		if err := p.Enqueue(payload); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if len(sink.starts) != 3 {
		t.Fatalf("expected 3 scheduled buffers, got %d", len(sink.starts))
	}
	for i := 1; i < len(sink.starts); i++ {
		if sink.starts[i].Before(sink.starts[i-1]) {
			t.Errorf("start %d precedes start %d", i, i-1)
		}
		prevEnd := sink.starts[i-1].Add(time.Second)
		if sink.starts[i].Before(prevEnd) {
			t.Errorf("buffer %d starts at %v before previous buffer ends at %v", i, sink.starts[i], prevEnd)
		}
	}
}

func TestPlayer_CursorCatchesUpToClock(t *testing.T) {
	sink := &fakeSink{}
	p, now := newTestPlayer(t, sink)

	payload := EncodeFrame(make([]float32, 2400)) // 100 ms
	if err := p.Enqueue(payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Clock jumps past the cursor; the next buffer starts at the clock, not
	// at the stale cursor.
	*now = now.Add(5 * time.Second)
	if err := p.Enqueue(payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if got := sink.starts[1]; !got.Equal(*now) {
		t.Errorf("second buffer starts at %v, want clock time %v", got, *now)
	}
	if want := now.Add(100 * time.Millisecond); !p.NextStart().Equal(want) {
		t.Errorf("cursor at %v, want %v", p.NextStart(), want)
	}
}

func TestPlayer_MalformedPayloadDoesNotAdvanceCursor(t *testing.T) {
	sink := &fakeSink{}
	p, _ := newTestPlayer(t, sink)

	before := p.NextStart()
	if err := p.Enqueue("(((bad)))"); err == nil {
		t.Fatal("expected decode error")
	}
	if !p.NextStart().Equal(before) {
		t.Error("malformed payload moved the playback cursor")
	}
	if len(sink.starts) != 0 {
		t.Error("malformed payload reached the sink")
	}
}

func TestPlayer_Stereo(t *testing.T) {
	sink := &fakeSink{}
	g, err := Build(GraphConfig{
		NewSink:        func() (PlaybackSink, error) { return sink, nil },
		OutputRate:     24000,
		OutputChannels: 2,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Teardown()

	p := NewPlayer(g)
	p.now = func() time.Time { return time.Unix(0, 0) }

	// 480 interleaved samples = 240 frames per channel = 10 ms at 24 kHz.
	if err := p.Enqueue(EncodeFrame(make([]float32, 480))); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if sink.frames[0] != 240 {
		t.Errorf("expected 240 frames per channel, got %d", sink.frames[0])
	}
	if want := time.Unix(0, 0).Add(10 * time.Millisecond); !p.NextStart().Equal(want) {
		t.Errorf("cursor at %v, want %v", p.NextStart(), want)
	}
}
