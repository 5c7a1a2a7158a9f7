package audio

import (
	"fmt"
	"sync"
	"time"
)

// Player is the playback pipeline: it decodes base64 PCM payloads delivered
// by the transport, feeds the output analysis tap, applies the gain stage,
// and schedules gapless sequential playback on the graph's sink.
//
// Scheduling maintains a single monotonic cursor: each buffer starts at
// max(now, cursor) and advances the cursor by its own duration, so buffers
// arriving in bursts never overlap and never play out of order.
type Player struct {
	mu        sync.Mutex
	sink      PlaybackSink
	tap       *Tap
	rate      int
	channels  int
	gain      float32
	nextStart time.Time

	// now is the playback clock; overridable in tests.
	now func() time.Time
}

// NewPlayer builds the playback pipeline over g's sink and output tap.
func NewPlayer(g *Graph) *Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &Player{
		sink:     g.sink,
		tap:      g.outputTap,
		rate:     g.outputRate,
		channels: g.outputChannels,
		gain:     float32(g.gain),
		now:      time.Now,
	}
}

// Enqueue decodes one audio payload and schedules it for playback. Malformed
// payloads return an error without disturbing the cursor; the caller logs and
// skips them so a single bad frame cannot stall the stream. An empty payload
// is a no-op.
func (p *Player) Enqueue(data string) error {
	samples, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gain != 1 {
		for i := range samples {
			samples[i] *= p.gain
		}
	}
	if p.tap != nil {
		p.tap.Feed(MixToMono(samples, p.channels))
	}

	chans := Deinterleave(samples, p.channels)
	frames := len(chans[0])
	dur := time.Duration(float64(frames) / float64(p.rate) * float64(time.Second))

	start := p.now()
	if p.nextStart.After(start) {
		start = p.nextStart
	}
	p.nextStart = start.Add(dur)

	if p.sink == nil {
		return nil
	}
	if err := p.sink.Schedule(chans, p.rate, start); err != nil {
		return fmt.Errorf("audio: schedule playback: %w", err)
	}
	return nil
}

// NextStart reports the playback cursor: the instant the next enqueued buffer
// would begin.
func (p *Player) NextStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextStart
}
