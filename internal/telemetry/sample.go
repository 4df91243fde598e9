package telemetry

import "time"

// WindowSize is the number of EC samples kept for the dashboard chart.
const WindowSize = 24

// LabelLayout is the time-of-day format used for sample labels (e.g. "02:15 PM").
const LabelLayout = "03:04 PM"

// Sample is one EC reading at a point in time.
type Sample struct {
	Time  time.Time `json:"time"`
	Label string    `json:"label"`
	Value float64   `json:"value"`
}

func NewSample(t time.Time, value float64) Sample {
	return Sample{Time: t, Label: t.Format(LabelLayout), Value: value}
}

// Window is a fixed-capacity sliding window of samples, oldest first.
// It is a value type: copies never share storage.
type Window struct {
	samples [WindowSize]Sample
	n       int
}

// Push appends s, evicting the oldest sample once the window is full.
func (w *Window) Push(s Sample) {
	if w.n < WindowSize {
		w.samples[w.n] = s
		w.n++
		return
	}
	copy(w.samples[:], w.samples[1:])
	w.samples[WindowSize-1] = s
}

func (w Window) Len() int {
	return w.n
}

// Samples returns a copy of the held samples, oldest first.
func (w Window) Samples() []Sample {
	out := make([]Sample, w.n)
	copy(out, w.samples[:w.n])
	return out
}

// Last returns the newest sample.
func (w Window) Last() (Sample, bool) {
	if w.n == 0 {
		return Sample{}, false
	}
	return w.samples[w.n-1], true
}

// Trend is the difference between the two newest values, 0 with fewer than two samples.
func (w Window) Trend() float64 {
	if w.n < 2 {
		return 0
	}
	return w.samples[w.n-1].Value - w.samples[w.n-2].Value
}
