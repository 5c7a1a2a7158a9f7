package audio

import (
	"context"
	"io"
	"time"
)

// ReaderSource adapts an io.Reader of little-endian 16-bit PCM into a
// [CaptureSource]. It is used by the diagnostic CLI to replay recorded audio
// as microphone input; host applications supply device-backed sources.
type ReaderSource struct {
	r        io.Reader
	rate     int
	channels int
}

// NewReaderSource wraps r, which must deliver s16le PCM at the given format.
func NewReaderSource(r io.Reader, sampleRate, channels int) *ReaderSource {
	if sampleRate <= 0 {
		sampleRate = DefaultInputRate
	}
	if channels <= 0 {
		channels = 1
	}
	return &ReaderSource{r: r, rate: sampleRate, channels: channels}
}

// Read fills buf with normalised samples decoded from the underlying reader.
// Returns io.EOF when the reader is exhausted.
func (s *ReaderSource) Read(ctx context.Context, buf []float32) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw := make([]byte, len(buf)*2)
	n, err := io.ReadFull(s.r, raw)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	samples := n / 2
	for i := range samples {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		buf[i] = float32(v) / 32768
	}
	return samples, err
}

// SampleRate reports the PCM sample rate of the underlying reader.
func (s *ReaderSource) SampleRate() int { return s.rate }

// Channels reports the channel count of the underlying reader.
func (s *ReaderSource) Channels() int { return s.channels }

// Close closes the underlying reader when it implements io.Closer.
func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// WriterSink adapts an io.Writer into a [PlaybackSink]. Buffers are written
// immediately as interleaved s16le PCM; the schedule instant is ignored since
// a byte stream has no playback clock. Useful for the diagnostic CLI and for
// piping model audio into an external player.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Schedule interleaves the channel buffers and writes them to the underlying
// writer.
func (s *WriterSink) Schedule(channels [][]float32, _ int, _ time.Time) error {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]byte, frames*len(channels)*2)
	for i := range frames {
		for ch := range channels {
			f := channels[ch][i]
			if f > 1 {
				f = 1
			} else if f < -1 {
				f = -1
			}
			v := int16(f * 32767)
			j := (i*len(channels) + ch) * 2
			out[j] = byte(v)
			out[j+1] = byte(uint16(v) >> 8)
		}
	}
	_, err := s.w.Write(out)
	return err
}

// Close closes the underlying writer when it implements io.Closer.
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
