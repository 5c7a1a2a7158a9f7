package audio

import (
	"math"
	"sync"
	"time"
)

// DefaultMeterInterval approximates one animation frame.
const DefaultMeterInterval = 16 * time.Millisecond

// meterGain maps typical speech RMS energy onto the upper part of the [0,1]
// UI range. Values above 1 are clamped.
const meterGain = 4.0

// VolumeFunc receives the smoothed input and output signal levels, both in
// [0, 1]. It is invoked on the meter's internal goroutine and must not block.
type VolumeFunc func(input, output float64)

// Meter is the visual analysis loop. It samples both analysis taps at a fixed
// interval, reduces each magnitude spectrum to an RMS energy scalar, and
// reports the pair through the callback. Missing taps report 0, and the loop
// keeps firing while the session is still connecting so UI feedback stays
// live before readiness.
//
// The loop holds a goroutine; failing to call [Meter.Stop] on disconnect is a
// resource leak.
type Meter struct {
	input    *Tap
	output   *Tap
	interval time.Duration
	fn       VolumeFunc

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMeter builds a meter over the two taps. Either tap may be nil.
// interval <= 0 selects [DefaultMeterInterval].
func NewMeter(input, output *Tap, interval time.Duration, fn VolumeFunc) *Meter {
	if interval <= 0 {
		interval = DefaultMeterInterval
	}
	return &Meter{
		input:    input,
		output:   output,
		interval: interval,
		fn:       fn,
		done:     make(chan struct{}),
	}
}

// Start launches the sampling loop. Subsequent calls are no-ops.
func (m *Meter) Start() {
	m.startOnce.Do(func() {
		go m.loop()
	})
}

// Stop cancels the loop. Safe to call multiple times and before Start.
func (m *Meter) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Meter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if m.fn != nil {
				m.fn(Level(m.input), Level(m.output))
			}
		}
	}
}

// Level reduces a tap's magnitude spectrum to a single RMS energy scalar in
// [0, 1]. A nil tap reports 0.
func Level(t *Tap) float64 {
	if t == nil {
		return 0
	}
	mags := t.Magnitudes()
	if len(mags) == 0 {
		return 0
	}
	var sum float64
	for _, m := range mags {
		sum += float64(m) * float64(m)
	}
	level := math.Sqrt(sum/float64(len(mags))) * meterGain
	return math.Min(level, 1)
}
