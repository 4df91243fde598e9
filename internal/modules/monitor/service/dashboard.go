// Package service owns the live dashboard state. Every mutation runs as a job
// on a schedule.Scheduler queue, so ticks, the deferred refresh and operator
// commands are applied one at a time.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"hydrobloom-server/internal/alarm"
	"hydrobloom-server/internal/config"
	"hydrobloom-server/internal/metrics"
	"hydrobloom-server/internal/modules/monitor/types"
	"hydrobloom-server/internal/schedule"
	"hydrobloom-server/internal/telemetry"
)

type Options struct {
	Farm         config.FarmProfile
	TickInterval time.Duration
	RefreshDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID names alarm episodes; defaults to random UUIDs.
	NewID func() string
}

type Dashboard struct {
	sched   schedule.Scheduler
	sim     *telemetry.Simulator
	eval    *alarm.Evaluator
	metrics *metrics.Recorder
	logger  *slog.Logger
	opts    Options

	// Owned by the scheduler queue.
	state       telemetry.State
	online      bool
	refreshing  bool
	stopped     bool
	lastUpdate  time.Time
	alarmID     string
	notified    alarm.Direction
	stopTick    schedule.Cancel
	stopRefresh schedule.Cancel

	mu      sync.RWMutex
	snap    types.Snapshot
	subs    map[int]chan types.Snapshot
	nextSub int
	closed  bool
}

// New builds a dashboard with a freshly initialized series. Nothing is
// scheduled until Start.
func New(sched schedule.Scheduler, sim *telemetry.Simulator, rec *metrics.Recorder, logger *slog.Logger, opts Options) (*Dashboard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.TickInterval <= 0 {
		return nil, errors.New("tick interval must be positive")
	}
	if opts.RefreshDelay <= 0 {
		return nil, errors.New("refresh delay must be positive")
	}

	eval, err := alarm.NewEvaluator(opts.Farm.ECRange)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		sched:    sched,
		sim:      sim,
		eval:     eval,
		metrics:  rec,
		logger:   logger.With("component", "dashboard"),
		opts:     opts,
		state:    sim.Initialize(),
		online:   true,
		notified: alarm.DirectionNone,
		subs:     make(map[int]chan types.Snapshot),
	}
	d.lastUpdate = opts.Now()
	d.observe()
	d.publish()
	return d, nil
}

// Start schedules the periodic tick. Calling it again is a no-op; after Stop
// it returns schedule.ErrStopped.
func (d *Dashboard) Start(ctx context.Context) error {
	var stopped bool
	err := d.sched.Do(ctx, func() {
		if d.stopped {
			stopped = true
			return
		}
		if d.stopTick != nil {
			return
		}
		d.stopTick = d.sched.Every(d.opts.TickInterval, d.tick)
		d.logger.Info("simulation started",
			"tick_interval", d.opts.TickInterval.String(),
			"ec_range", d.eval.Range().String(),
		)
	})
	if err == nil && stopped {
		err = schedule.ErrStopped
	}
	return err
}

// Stop cancels the periodic tick and any pending refresh, then closes every
// subscription. Start and RequestRefresh fail afterwards. A scheduler that is
// already stopped has no timers left to cancel, so ErrStopped is not reported.
func (d *Dashboard) Stop(ctx context.Context) error {
	err := d.sched.Do(ctx, func() {
		d.stopped = true
		if d.stopTick != nil {
			d.stopTick()
			d.stopTick = nil
		}
		if d.stopRefresh != nil {
			d.stopRefresh()
			d.stopRefresh = nil
			d.refreshing = false
			d.publish()
		}
	})
	if errors.Is(err, schedule.ErrStopped) {
		err = nil
	}

	d.mu.Lock()
	d.closed = true
	for id, ch := range d.subs {
		delete(d.subs, id)
		close(ch)
	}
	d.mu.Unlock()
	d.metrics.SetSubscribers(0)

	return err
}

func (d *Dashboard) tick() {
	next, sample := d.sim.Tick(d.state)
	d.state = next
	d.online = d.sim.Online()
	d.lastUpdate = d.opts.Now()
	d.observe()
	d.metrics.IncTick()
	d.logger.Debug("tick applied",
		"ec", sample.Value,
		"water_level", d.state.WaterLevel,
		"online", d.online,
	)
	d.publish()
}

// RequestRefresh starts the simulated refresh round trip and reports whether
// it was accepted. A request made while a refresh is pending is ignored.
func (d *Dashboard) RequestRefresh(ctx context.Context) (bool, error) {
	var accepted, stopped bool
	err := d.sched.Do(ctx, func() {
		if d.stopped {
			stopped = true
			return
		}
		if d.refreshing {
			return
		}
		accepted = true
		d.refreshing = true
		d.stopRefresh = d.sched.After(d.opts.RefreshDelay, d.refresh)
		d.publish()
	})
	if err == nil && stopped {
		err = schedule.ErrStopped
	}
	return accepted, err
}

func (d *Dashboard) refresh() {
	d.stopRefresh = nil
	d.refreshing = false
	d.state = d.sim.Refresh()
	d.lastUpdate = d.opts.Now()
	d.observe()
	d.metrics.IncRefresh()
	d.logger.Info("data refreshed",
		"ec", round(d.state.EC, 2),
		"water_level", round(d.state.WaterLevel, 1),
	)
	d.publish()
}

// Acknowledge silences the active EC alarm. Outside an alarm it changes nothing.
func (d *Dashboard) Acknowledge(ctx context.Context) (types.Snapshot, error) {
	var snap types.Snapshot
	err := d.sched.Do(ctx, func() {
		if d.eval.Acknowledge() {
			d.metrics.IncAcknowledged()
			d.logger.Info("ec alarm acknowledged", "alarm_id", d.alarmID)
			d.publish()
		}
		snap = d.Snapshot()
	})
	return snap, err
}

// UpdateThresholds parses and applies a new EC range from operator input.
// A rejected range returns an *alarm.ValidationError and leaves every piece
// of state as it was.
func (d *Dashboard) UpdateThresholds(ctx context.Context, minText, maxText string) (types.Snapshot, error) {
	r, err := alarm.ParseRange(minText, maxText)
	if err != nil {
		d.reject(err)
		return d.Snapshot(), err
	}
	return d.applyRange(ctx, func() error { return d.eval.UpdateRange(r) })
}

// ResetThresholds restores the farm's default EC range.
func (d *Dashboard) ResetThresholds(ctx context.Context) (types.Snapshot, error) {
	return d.applyRange(ctx, d.eval.ResetRange)
}

func (d *Dashboard) applyRange(ctx context.Context, apply func() error) (types.Snapshot, error) {
	var (
		snap     types.Snapshot
		applyErr error
	)
	err := d.sched.Do(ctx, func() {
		wasAlarm := d.eval.State().IsAlarm
		if applyErr = apply(); applyErr != nil {
			snap = d.Snapshot()
			return
		}
		// The acknowledgment was cleared, so an ongoing alarm is announced again.
		d.notified = alarm.DirectionNone
		d.trackAlarm(wasAlarm, d.eval.State())
		d.logger.Info("ec thresholds updated", "range", d.eval.Range().String())
		d.publish()
		snap = d.Snapshot()
	})
	if err != nil {
		return types.Snapshot{}, err
	}
	if applyErr != nil {
		d.reject(applyErr)
		return snap, applyErr
	}
	return snap, nil
}

func (d *Dashboard) reject(err error) {
	var ve *alarm.ValidationError
	if errors.As(err, &ve) {
		d.metrics.IncRejected(string(ve.Kind))
		d.logger.Warn("threshold update rejected", "kind", ve.Kind, "error", ve.Message)
		return
	}
	d.logger.Error("threshold update failed", "error", err)
}

// Export returns one row per sample in the series, each paired with a
// jittered copy of the current water level.
func (d *Dashboard) Export(ctx context.Context) ([]types.ExportRow, error) {
	var rows []types.ExportRow
	err := d.sched.Do(ctx, func() {
		samples := d.state.Series.Samples()
		rows = make([]types.ExportRow, 0, len(samples))
		for _, s := range samples {
			rows = append(rows, types.ExportRow{
				Timestamp:  s.Label,
				EC:         s.Value,
				WaterLevel: d.sim.ExportWaterLevel(d.state.WaterLevel),
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Snapshot returns the last published state. Its Series must not be modified.
func (d *Dashboard) Snapshot() types.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// Subscribe delivers the current snapshot and then every published one.
// A slow reader only ever sees the newest snapshot. The channel is closed
// by cancel or by Stop.
func (d *Dashboard) Subscribe() (<-chan types.Snapshot, func()) {
	ch := make(chan types.Snapshot, 1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
		return ch, func() {}
	}
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	ch <- d.snap
	d.metrics.SetSubscribers(len(d.subs))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if c, ok := d.subs[id]; ok {
				delete(d.subs, id)
				close(c)
				d.metrics.SetSubscribers(len(d.subs))
			}
		})
	}
	return ch, cancel
}

// observe reclassifies the current EC reading.
func (d *Dashboard) observe() {
	wasAlarm := d.eval.State().IsAlarm
	d.trackAlarm(wasAlarm, d.eval.Observe(d.state.EC))
}

// trackAlarm opens a new episode on a NORMAL to ALARM transition and logs
// the alarm once per episode and direction while it is unacknowledged.
func (d *Dashboard) trackAlarm(wasAlarm bool, st alarm.AlarmState) {
	if !st.IsAlarm {
		d.alarmID = ""
		d.notified = alarm.DirectionNone
		return
	}
	if !wasAlarm || d.alarmID == "" {
		d.alarmID = d.opts.NewID()
		d.metrics.IncAlarmRaised(string(st.Direction))
	}
	if st.Acknowledged || st.Direction == d.notified {
		return
	}
	d.notified = st.Direction
	rng := d.eval.Range()
	d.logger.Warn("ec alarm",
		"alarm_id", d.alarmID,
		"direction", st.Direction,
		"ec", round(d.state.EC, 1),
		"unit", d.opts.Farm.ECUnit,
		"min", rng.Min,
		"max", rng.Max,
	)
}

func (d *Dashboard) publish() {
	snap := d.build()
	d.metrics.ObserveReadings(snap.EC, snap.WaterLevel, snap.Online, snap.Alarm.IsAlarm)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap = snap
	for _, ch := range d.subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale snapshot the reader has not taken yet.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (d *Dashboard) build() types.Snapshot {
	st := d.eval.State()
	farm := d.opts.Farm

	system := types.SystemOffline
	switch {
	case st.IsAlarm:
		system = types.SystemAlarm
	case d.online:
		system = types.SystemOnline
	}

	return types.Snapshot{
		FarmName:      farm.Name,
		Unit:          farm.ECUnit,
		EC:            d.state.EC,
		Trend:         d.state.Series.Trend(),
		ECStatus:      d.eval.Classification().Status,
		Alarm:         st,
		AlarmState:    st.Name(),
		AlarmID:       d.alarmID,
		Thresholds:    d.eval.Range(),
		WaterLevel:    d.state.WaterLevel,
		WaterStatus:   alarm.WaterLevelStatus(d.state.WaterLevel, farm.Water.WaterThresholds),
		WaterHeightMM: int(math.Round(d.state.WaterLevel * farm.Water.MMPerPct)),
		Online:        d.online,
		Refreshing:    d.refreshing,
		SystemStatus:  system,
		LastUpdate:    d.lastUpdate,
		Series:        d.state.Series.Samples(),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
