package audio

import (
	"math"
	"math/cmplx"
	"sync"
)

// tapWindow is the number of samples retained for spectral analysis.
// Power of two so the FFT stays radix-2.
const tapWindow = 256

// Tap is a non-destructive analysis point in the audio graph. The functional
// signal path feeds samples through [Tap.Feed] unchanged; the level meter
// reads frequency-domain magnitudes from the most recent window via
// [Tap.Magnitudes]. Safe for concurrent use — capture/playback write while
// the meter loop reads.
type Tap struct {
	mu     sync.Mutex
	window [tapWindow]float32
	pos    int
}

// NewTap creates an empty analysis tap.
func NewTap() *Tap {
	return &Tap{}
}

// Feed records samples into the tap's rolling window. Only the most recent
// tapWindow samples are retained.
func (t *Tap) Feed(samples []float32) {
	if len(samples) > tapWindow {
		samples = samples[len(samples)-tapWindow:]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range samples {
		t.window[t.pos] = s
		t.pos = (t.pos + 1) % tapWindow
	}
}

// Magnitudes returns the magnitude spectrum of the current window, one value
// per frequency bin (tapWindow/2 bins), normalised so that a full-scale
// sinusoid peaks near 1.0.
func (t *Tap) Magnitudes() []float32 {
	buf := make([]complex128, tapWindow)
	t.mu.Lock()
	for i := range tapWindow {
		buf[i] = complex(float64(t.window[(t.pos+i)%tapWindow]), 0)
	}
	t.mu.Unlock()

	fft(buf)

	mags := make([]float32, tapWindow/2)
	for i := range mags {
		mags[i] = float32(cmplx.Abs(buf[i])) / (tapWindow / 2)
	}
	return mags
}

// fft performs an in-place iterative radix-2 FFT. len(a) must be a power of two.
func fft(a []complex128) {
	n := len(a)

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wl := cmplx.Exp(complex(0, ang))
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			for k := range length / 2 {
				u := a[i+k]
				v := a[i+k+length/2] * w
				a[i+k] = u + v
				a[i+k+length/2] = u - v
				w *= wl
			}
		}
	}
}
