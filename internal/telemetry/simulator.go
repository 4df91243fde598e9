// Package telemetry simulates the EC and water-level readings of an NFT
// system. There is no sensor input: every reading comes from a random Source.
package telemetry

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	ECMin         = 1.0
	ECMax         = 2.4
	WaterLevelMin = 0.0
	WaterLevelMax = 100.0

	InitialEC         = 1.7
	InitialWaterLevel = 78.0

	ecBase        = 1.7
	ecWaveAmp     = 0.3
	ecWaveStep    = 0.1
	ecSeedNoise   = 0.2
	ecTickSpread  = 0.15
	waterSpread   = 1.5
	exportSpread  = 5.0
	refreshECLow  = 1.4
	refreshECSpan = 0.6
	refreshWLLow  = 50.0
	refreshWLSpan = 40.0

	// offlineChance is the per-tick probability of reporting the farm offline.
	offlineChance = 0.02
)

// Source yields uniformly distributed values in [0, 1).
type Source interface {
	Float64() float64
}

// NewSource returns a seeded pseudo-random Source. It is not safe for
// concurrent use; the simulator is driven from a single goroutine.
func NewSource(seed int64) Source {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
}

// Sequence is a Source replaying fixed values in a loop. An empty Sequence yields 0.5.
type Sequence struct {
	values []float64
	next   int
}

func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	if len(s.values) == 0 {
		return 0.5
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

// State is the live reading set owned by a dashboard.
type State struct {
	EC         float64
	WaterLevel float64
	Series     Window
}

type Simulator struct {
	src Source
	now func() time.Time
}

// NewSimulator returns a simulator drawing from src. A nil now defaults to time.Now.
func NewSimulator(src Source, now func() time.Time) *Simulator {
	if now == nil {
		now = time.Now
	}
	return &Simulator{src: src, now: now}
}

// Initialize seeds 24 hourly samples ending now, with the reading set to its
// initial values.
func (s *Simulator) Initialize() State {
	return State{
		EC:         InitialEC,
		WaterLevel: InitialWaterLevel,
		Series:     s.seedSeries(s.now()),
	}
}

// Tick perturbs both readings and appends the new EC sample to the series.
// It does not schedule anything.
func (s *Simulator) Tick(prev State) (State, Sample) {
	next := prev
	next.EC = clamp(prev.EC+s.spread(ecTickSpread), ECMin, ECMax)
	next.WaterLevel = clamp(prev.WaterLevel+s.spread(waterSpread), WaterLevelMin, WaterLevelMax)

	sample := NewSample(s.now(), next.EC)
	next.Series.Push(sample)
	return next, sample
}

// Refresh discards the history and reseeds it, with fresh EC and water-level readings.
func (s *Simulator) Refresh() State {
	return State{
		EC:         clamp(refreshECLow+s.src.Float64()*refreshECSpan, ECMin, ECMax),
		WaterLevel: clamp(refreshWLLow+s.src.Float64()*refreshWLSpan, WaterLevelMin, WaterLevelMax),
		Series:     s.seedSeries(s.now()),
	}
}

// Online simulates occasional connection drops.
func (s *Simulator) Online() bool {
	return s.src.Float64() > offlineChance
}

// ExportWaterLevel returns level with ±2.5 points of jitter, standing in for
// the water level recorded alongside a historical EC sample.
func (s *Simulator) ExportWaterLevel(level float64) float64 {
	return clamp(level+s.spread(exportSpread), WaterLevelMin, WaterLevelMax)
}

func (s *Simulator) seedSeries(now time.Time) Window {
	var w Window
	for i := WindowSize - 1; i >= 0; i-- {
		t := now.Add(-time.Duration(i) * time.Hour)
		v := ecBase + math.Sin(float64(i)*ecWaveStep)*ecWaveAmp + s.spread(ecSeedNoise)
		w.Push(NewSample(t, clamp(v, ECMin, ECMax)))
	}
	return w
}

// spread maps a uniform draw onto [-width/2, width/2).
func (s *Simulator) spread(width float64) float64 {
	return (s.src.Float64() - 0.5) * width
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
