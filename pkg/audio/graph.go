package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default audio formats. The wire format towards the remote model is 16 kHz
// mono for capture and 24 kHz for synthesised playback.
const (
	DefaultInputRate  = 16000
	DefaultOutputRate = 24000

	// DefaultFrameSize is the number of samples per capture frame at the
	// input wire rate (16 ms at 16 kHz). Kept a power of two so the block
	// processor is constructible without explicit configuration; the
	// passthrough fallback only covers odd user-chosen sizes.
	DefaultFrameSize = 256
)

// CaptureSource is a live audio input stream (a microphone or an equivalent
// host-provided device). Read fills buf with interleaved normalised float
// samples and returns the number of samples written. Implementations must
// return an error (typically [io.EOF] or a device error) once the stream
// ends; Read must honour ctx cancellation.
type CaptureSource interface {
	Read(ctx context.Context, buf []float32) (int, error)
	SampleRate() int
	Channels() int
	Close() error
}

// PlaybackSink is the terminal output of the playback pipeline. Schedule
// queues one decoded buffer (per-channel sample slices) for playback starting
// at the given wall-clock instant. Implementations that cannot honour timed
// playback (e.g. file sinks) may play immediately.
type PlaybackSink interface {
	Schedule(channels [][]float32, sampleRate int, at time.Time) error
	Close() error
}

// GraphConfig configures [Build]. Both factories are optional: a nil
// AcquireSource leaves the session in transcript-only mode, a nil NewSink
// discards synthesised audio after metering.
type GraphConfig struct {
	// AcquireSource opens the capture device. Called once per graph build.
	AcquireSource func(ctx context.Context) (CaptureSource, error)

	// NewSink opens the playback output.
	NewSink func() (PlaybackSink, error)

	// InputRate is the capture wire sample rate in Hz. Default 16000.
	InputRate int

	// OutputRate is the playback sample rate in Hz. Default 24000.
	OutputRate int

	// OutputChannels is the playback channel count. Default 1.
	OutputChannels int

	// FrameSize is the samples per capture frame at InputRate. Default 256.
	FrameSize int

	// Gain scales playback amplitude. Default 1.0.
	Gain float64
}

// Graph is the owned aggregate of live audio resources for one session:
// capture source, the two analysis taps, the frame processor, and the
// playback sink with its gain stage. A Graph is built once per connect and
// must be torn down exactly once on every exit path before a new one is
// built. Teardown is tolerant of being called more than once.
type Graph struct {
	mu   sync.Mutex
	torn bool

	source    CaptureSource
	sink      PlaybackSink
	inputTap  *Tap
	outputTap *Tap
	processor frameProcessor

	inputRate      int
	outputRate     int
	outputChannels int
	frameSize      int
	gain           float64

	// acquire is stashed from GraphConfig so Teardown can invalidate it with
	// the rest of the nodes.
	acquire func(ctx context.Context) (CaptureSource, error)
}

// Build constructs a fresh audio graph from cfg. The capture source is NOT
// acquired here — callers acquire it separately via [Graph.AcquireCapture] so
// that a missing microphone degrades the session instead of failing the
// build. Returns an error only when the playback sink cannot be created.
func Build(cfg GraphConfig) (*Graph, error) {
	g := &Graph{
		inputTap:       NewTap(),
		outputTap:      NewTap(),
		inputRate:      cfg.InputRate,
		outputRate:     cfg.OutputRate,
		outputChannels: cfg.OutputChannels,
		frameSize:      cfg.FrameSize,
		gain:           cfg.Gain,
	}
	if g.inputRate <= 0 {
		g.inputRate = DefaultInputRate
	}
	if g.outputRate <= 0 {
		g.outputRate = DefaultOutputRate
	}
	if g.outputChannels <= 0 {
		g.outputChannels = 1
	}
	if g.frameSize <= 0 {
		g.frameSize = DefaultFrameSize
	}
	if g.gain <= 0 {
		g.gain = 1
	}

	proc, err := newBlockProcessor(g.frameSize)
	if err != nil {
		// The richer processor needs a power-of-two frame; the passthrough
		// processor has the same contract and keeps capture alive.
		slog.Warn("audio: block processor unavailable, using passthrough",
			"frame_size", g.frameSize, "err", err)
		g.processor = passthroughProcessor{}
	} else {
		g.processor = proc
	}

	if cfg.NewSink != nil {
		sink, err := cfg.NewSink()
		if err != nil {
			return nil, fmt.Errorf("audio: open playback sink: %w", err)
		}
		g.sink = sink
	}

	g.acquire = cfg.AcquireSource
	return g, nil
}

// AcquireCapture opens the capture source configured at build time. Returns
// an error when no source factory was configured or the device cannot be
// opened; the graph remains usable for playback either way.
func (g *Graph) AcquireCapture(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.torn {
		return errors.New("audio: graph is torn down")
	}
	if g.acquire == nil {
		return errors.New("audio: no capture source configured")
	}
	src, err := g.acquire(ctx)
	if err != nil {
		return fmt.Errorf("audio: acquire capture source: %w", err)
	}
	g.source = src
	return nil
}

// Source returns the capture source, or nil when capture is unavailable.
func (g *Graph) Source() CaptureSource {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.source
}

// InputTap returns the capture-side analysis tap. Nil after teardown.
func (g *Graph) InputTap() *Tap {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inputTap
}

// OutputTap returns the playback-side analysis tap. Nil after teardown.
func (g *Graph) OutputTap() *Tap {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outputTap
}

// Teardown releases every node of the graph and invalidates all fields so
// that a second call is a safe no-op. It returns the joined close errors, if
// any; the graph is considered dead regardless.
func (g *Graph) Teardown() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.torn {
		return nil
	}
	g.torn = true

	var errs []error
	if g.source != nil {
		if err := g.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio: close capture source: %w", err))
		}
	}
	if g.sink != nil {
		if err := g.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio: close playback sink: %w", err))
		}
	}
	g.source = nil
	g.sink = nil
	g.inputTap = nil
	g.outputTap = nil
	g.processor = nil
	g.acquire = nil

	return errors.Join(errs...)
}
