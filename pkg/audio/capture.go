package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// EmitFunc receives one encoded capture frame. The mime type carries the wire
// sample rate (e.g. "audio/pcm;rate=16000"); data is the base64 PCM payload.
// Implementations must not block for long: the capture loop runs in real time.
type EmitFunc func(mimeType, data string)

// frameProcessor turns one buffer of wire-rate mono samples into an encoded
// frame. Both implementations share the contract; the block processor is
// preferred and the passthrough processor is the degraded fallback.
type frameProcessor interface {
	Process(samples []float32) string
}

// blockProcessor removes DC offset with a running mean before encoding.
// It preallocates its scratch buffer and requires a power-of-two frame size
// so the mean update stays a shift.
type blockProcessor struct {
	frameSize int
	shift     uint
	mean      float32
	scratch   []float32
}

func newBlockProcessor(frameSize int) (*blockProcessor, error) {
	if frameSize <= 0 || frameSize&(frameSize-1) != 0 {
		return nil, fmt.Errorf("frame size %d is not a power of two", frameSize)
	}
	shift := uint(0)
	for 1<<shift < frameSize {
		shift++
	}
	return &blockProcessor{
		frameSize: frameSize,
		shift:     shift,
		scratch:   make([]float32, frameSize),
	}, nil
}

func (p *blockProcessor) Process(samples []float32) string {
	if len(samples) != p.frameSize {
		// Partial trailing buffer: encode as-is without offset removal.
		return EncodeFrame(samples)
	}
	var sum float32
	for _, s := range samples {
		sum += s
	}
	p.mean = sum / float32(int(1)<<p.shift)
	for i, s := range samples {
		p.scratch[i] = s - p.mean
	}
	return EncodeFrame(p.scratch)
}

// passthroughProcessor encodes buffers unchanged.
type passthroughProcessor struct{}

func (passthroughProcessor) Process(samples []float32) string {
	return EncodeFrame(samples)
}

// Capture is the capture pipeline: it pumps buffers from the graph's capture
// source through the input analysis tap and the frame processor, and hands
// the encoded frames to the session via emit. One Capture runs per session;
// [Capture.Run] blocks until the source ends, an unrecoverable read error
// occurs, or [Capture.Stop] / ctx cancellation stops the loop.
type Capture struct {
	graph *Graph
	emit  EmitFunc

	done     chan struct{}
	stopOnce sync.Once
}

// NewCapture wires a capture pipeline over g. The graph must still be live.
func NewCapture(g *Graph, emit EmitFunc) *Capture {
	return &Capture{
		graph: g,
		emit:  emit,
		done:  make(chan struct{}),
	}
}

// Run executes the capture loop. A nil capture source returns immediately
// with no error — the session then runs in transcript-only mode. A clean
// end-of-stream (io.EOF) also returns nil.
func (c *Capture) Run(ctx context.Context) error {
	c.graph.mu.Lock()
	src := c.graph.source
	tap := c.graph.inputTap
	proc := c.graph.processor
	wireRate := c.graph.inputRate
	frameSize := c.graph.frameSize
	c.graph.mu.Unlock()

	if src == nil || proc == nil {
		return nil
	}

	mimeType := fmt.Sprintf("audio/pcm;rate=%d", wireRate)
	srcRate := src.SampleRate()
	channels := src.Channels()
	if srcRate <= 0 {
		srcRate = wireRate
	}
	if channels <= 0 {
		channels = 1
	}

	// Source-side buffer sized so each read yields one wire-rate frame after
	// downmix and resampling.
	srcFrame := frameSize * srcRate / wireRate
	if srcFrame <= 0 {
		srcFrame = frameSize
	}
	buf := make([]float32, srcFrame*channels)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		default:
		}

		n, err := src.Read(ctx, buf)
		if n > 0 {
			mono := MixToMono(buf[:n], channels)
			tap.Feed(mono)
			wire := ResampleMono(mono, srcRate, wireRate)
			if len(wire) > 0 {
				c.emit(mimeType, proc.Process(wire))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("audio: capture read: %w", err)
		}
	}
}

// Stop ends the capture loop. Safe to call multiple times and before Run.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
