// Package audio implements the client-side audio path of a Voxline voice
// session: PCM encoding/decoding, the capture and playback pipelines, the
// owned processing graph, and signal-level metering for UI feedback.
//
// The wire format for all audio is base64-encoded 16-bit signed little-endian
// PCM. Inside the process, samples are normalised float32 values in [-1, 1].
// Conversion between the two representations is handled by [EncodeFrame] and
// [DecodeFrame]; both are pure and stateless so they can be shared freely
// between the capture and playback paths.
package audio

import (
	"encoding/base64"
	"fmt"
)

// EncodeFrame converts normalised float samples to a base64-encoded
// little-endian 16-bit PCM payload. Every sample is hard-clamped to [-1, 1]
// before scaling — out-of-range input must not wrap around into loud
// distortion. The round trip through [DecodeFrame] is lossy (16-bit
// quantisation) but deterministic.
func EncodeFrame(samples []float32) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(uint16(v) >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeFrame converts a base64-encoded 16-bit PCM payload back to normalised
// float samples. Malformed base64 or an odd byte count yields a nil slice and
// an error; callers in the playback path are expected to log and skip the
// frame rather than abort the stream.
func DecodeFrame(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("audio: odd byte count in PCM payload: %d", len(raw))
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}

// Deinterleave splits an interleaved sample slice into per-channel slices.
// channels <= 1 returns the input as a single channel. A trailing partial
// frame is dropped.
func Deinterleave(samples []float32, channels int) [][]float32 {
	if channels <= 1 {
		return [][]float32{samples}
	}
	frames := len(samples) / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			out[ch][i] = samples[i*channels+ch]
		}
	}
	return out
}
