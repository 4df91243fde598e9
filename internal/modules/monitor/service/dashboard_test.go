package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hydrobloom-server/internal/alarm"
	"hydrobloom-server/internal/config"
	"hydrobloom-server/internal/metrics"
	"hydrobloom-server/internal/modules/monitor/types"
	"hydrobloom-server/internal/schedule"
	"hydrobloom-server/internal/telemetry"
)

var testNow = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

// scriptedSource replays vals once and then yields 0.5, which leaves every
// perturbation at zero.
type scriptedSource struct {
	vals []float64
}

func (s *scriptedSource) Float64() float64 {
	if len(s.vals) == 0 {
		return 0.5
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v
}

// afterInit skips the draws consumed by seeding the initial series.
func afterInit(vals ...float64) *scriptedSource {
	seed := make([]float64, telemetry.WindowSize)
	for i := range seed {
		seed[i] = 0.5
	}
	return &scriptedSource{vals: append(seed, vals...)}
}

type fixture struct {
	dash  *Dashboard
	sched *schedule.Manual
	rec   *metrics.Recorder
	logs  *bytes.Buffer
}

func newFixture(t *testing.T, src telemetry.Source) *fixture {
	t.Helper()

	var ids int
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sched := schedule.NewManual()
	rec := metrics.New()

	dash, err := New(sched, telemetry.NewSimulator(src, func() time.Time { return testNow }), rec, logger, Options{
		Farm:         config.DefaultFarmProfile(),
		TickInterval: 10 * time.Second,
		RefreshDelay: time.Second,
		Now:          func() time.Time { return testNow },
		NewID: func() string {
			ids++
			return fmt.Sprintf("alarm-%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{dash: dash, sched: sched, rec: rec, logs: logs}
}

func (f *fixture) alarmLogs() int {
	return strings.Count(f.logs.String(), `"msg":"ec alarm",`)
}

func (f *fixture) exposition(t *testing.T) string {
	t.Helper()
	w := httptest.NewRecorder()
	f.rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNew_initialSnapshot(t *testing.T) {
	f := newFixture(t, telemetry.NewSequence())
	snap := f.dash.Snapshot()

	if snap.FarmName != "GreenGrow NFT Farm" || snap.Unit != "mS/cm" {
		t.Errorf("farm = %q %q; want defaults", snap.FarmName, snap.Unit)
	}
	if snap.EC != telemetry.InitialEC || snap.WaterLevel != telemetry.InitialWaterLevel {
		t.Errorf("readings = %v / %v; want %v / %v", snap.EC, snap.WaterLevel, telemetry.InitialEC, telemetry.InitialWaterLevel)
	}
	if snap.WaterHeightMM != 250 {
		t.Errorf("WaterHeightMM = %d; want 250", snap.WaterHeightMM)
	}
	if snap.WaterStatus != alarm.WaterNormal {
		t.Errorf("WaterStatus = %s; want %s", snap.WaterStatus, alarm.WaterNormal)
	}
	if snap.AlarmState != alarm.StateNormal || snap.AlarmID != "" {
		t.Errorf("alarm = %s id=%q; want NORMAL with no id", snap.AlarmState, snap.AlarmID)
	}
	if snap.SystemStatus != types.SystemOnline || !snap.Online {
		t.Errorf("system = %s online=%v; want Online", snap.SystemStatus, snap.Online)
	}
	if snap.Thresholds != alarm.DefaultRange {
		t.Errorf("Thresholds = %v; want %v", snap.Thresholds, alarm.DefaultRange)
	}
	if len(snap.Series) != telemetry.WindowSize {
		t.Fatalf("len(Series) = %d; want %d", len(snap.Series), telemetry.WindowSize)
	}
	if want := -math.Sin(0.1) * 0.3; !almostEqual(snap.Trend, want) {
		t.Errorf("Trend = %v; want %v", snap.Trend, want)
	}
	if !snap.LastUpdate.Equal(testNow) {
		t.Errorf("LastUpdate = %v; want %v", snap.LastUpdate, testNow)
	}
}

func TestNew_rejectsBadOptions(t *testing.T) {
	sim := telemetry.NewSimulator(telemetry.NewSequence(), nil)
	tests := []struct {
		name string
		opts Options
	}{
		{name: "zero tick", opts: Options{Farm: config.DefaultFarmProfile(), RefreshDelay: time.Second}},
		{name: "zero refresh delay", opts: Options{Farm: config.DefaultFarmProfile(), TickInterval: time.Second}},
		{name: "invalid range", opts: Options{
			Farm:         config.FarmProfile{ECRange: alarm.Range{Min: 2, Max: 1}},
			TickInterval: time.Second,
			RefreshDelay: time.Second,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(schedule.NewManual(), sim, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), tt.opts); err == nil {
				t.Fatal("New() err = nil; want error")
			}
		})
	}
}

func TestStart_ticksOnInterval(t *testing.T) {
	f := newFixture(t, afterInit(0.9, 0.9, 0.9))
	if err := f.dash.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.dash.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := f.sched.Pending(); got != 1 {
		t.Fatalf("Pending() = %d; want 1 periodic timer", got)
	}

	f.sched.Advance(9 * time.Second)
	if got := f.dash.Snapshot().EC; got != telemetry.InitialEC {
		t.Fatalf("EC before interval = %v; want %v", got, telemetry.InitialEC)
	}

	f.sched.Advance(time.Second)
	snap := f.dash.Snapshot()
	if !almostEqual(snap.EC, 1.76) {
		t.Errorf("EC = %v; want 1.76", snap.EC)
	}
	if !almostEqual(snap.WaterLevel, 78.6) {
		t.Errorf("WaterLevel = %v; want 78.6", snap.WaterLevel)
	}
	if len(snap.Series) != telemetry.WindowSize {
		t.Errorf("len(Series) = %d; want %d", len(snap.Series), telemetry.WindowSize)
	}
	if last := snap.Series[len(snap.Series)-1]; !almostEqual(last.Value, 1.76) {
		t.Errorf("newest sample = %v; want 1.76", last.Value)
	}
	if !almostEqual(snap.Trend, 0.06) {
		t.Errorf("Trend = %v; want 0.06", snap.Trend)
	}
	if !strings.Contains(f.exposition(t), "hydro_simulation_ticks_total 1") {
		t.Error("tick counter not incremented")
	}
}

func TestTick_offline(t *testing.T) {
	f := newFixture(t, afterInit(0.5, 0.5, 0.01))
	if err := f.dash.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.sched.Advance(10 * time.Second)

	snap := f.dash.Snapshot()
	if snap.Online {
		t.Fatal("Online = true; want false")
	}
	if snap.SystemStatus != types.SystemOffline {
		t.Errorf("SystemStatus = %s; want %s", snap.SystemStatus, types.SystemOffline)
	}
}

func TestAlarm_episodeLifecycle(t *testing.T) {
	f := newFixture(t, telemetry.NewSequence())
	ctx := context.Background()
	if err := f.dash.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap, err := f.dash.UpdateThresholds(ctx, "0.5", "1.5")
	if err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}
	if snap.AlarmState != alarm.StateUnacked || snap.Alarm.Direction != alarm.DirectionAbove {
		t.Fatalf("alarm = %s %s; want ALARM_UNACKED above", snap.AlarmState, snap.Alarm.Direction)
	}
	if snap.AlarmID != "alarm-1" || snap.SystemStatus != types.SystemAlarm {
		t.Errorf("id=%q system=%s; want alarm-1 ALARM", snap.AlarmID, snap.SystemStatus)
	}
	if got := f.alarmLogs(); got != 1 {
		t.Fatalf("ec alarm logs = %d; want 1", got)
	}

	f.sched.Advance(30 * time.Second)
	if got := f.dash.Snapshot().AlarmID; got != "alarm-1" {
		t.Errorf("AlarmID after ticks = %q; want alarm-1", got)
	}
	if got := f.alarmLogs(); got != 1 {
		t.Errorf("ec alarm logs after ticks = %d; want 1", got)
	}

	snap, err = f.dash.Acknowledge(ctx)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if snap.AlarmState != alarm.StateAcked {
		t.Errorf("state = %s; want ALARM_ACKED", snap.AlarmState)
	}

	snap, err = f.dash.ResetThresholds(ctx)
	if err != nil {
		t.Fatalf("ResetThresholds: %v", err)
	}
	if snap.AlarmState != alarm.StateNormal || snap.AlarmID != "" {
		t.Errorf("after reset: %s id=%q; want NORMAL with no id", snap.AlarmState, snap.AlarmID)
	}
	if snap.Thresholds != alarm.DefaultRange {
		t.Errorf("Thresholds = %v; want %v", snap.Thresholds, alarm.DefaultRange)
	}

	snap, err = f.dash.UpdateThresholds(ctx, "1.8", "2.6")
	if err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}
	if snap.AlarmID != "alarm-2" || snap.Alarm.Direction != alarm.DirectionBelow {
		t.Errorf("second episode id=%q dir=%s; want alarm-2 below", snap.AlarmID, snap.Alarm.Direction)
	}

	expo := f.exposition(t)
	for _, want := range []string{
		`hydro_ec_alarms_raised_total{direction="above"} 1`,
		`hydro_ec_alarms_raised_total{direction="below"} 1`,
		`hydro_ec_alarms_acknowledged_total 1`,
	} {
		if !strings.Contains(expo, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestAcknowledge_outsideAlarmIsNoop(t *testing.T) {
	f := newFixture(t, telemetry.NewSequence())
	before := f.dash.Snapshot()

	snap, err := f.dash.Acknowledge(context.Background())
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if snap.AlarmState != alarm.StateNormal || snap.Alarm.Acknowledged {
		t.Errorf("state = %+v; want NORMAL, unacknowledged", snap.Alarm)
	}
	if snap.EC != before.EC || snap.AlarmID != before.AlarmID {
		t.Error("acknowledge outside alarm changed the snapshot")
	}
	if !strings.Contains(f.exposition(t), "hydro_ec_alarms_acknowledged_total 0") {
		t.Error("ack counter moved")
	}
}

func TestUpdateThresholds_clearsAcknowledgment(t *testing.T) {
	f := newFixture(t, telemetry.NewSequence())
	ctx := context.Background()

	if _, err := f.dash.UpdateThresholds(ctx, "0.5", "1.5"); err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}
	if _, err := f.dash.Acknowledge(ctx); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	snap, err := f.dash.UpdateThresholds(ctx, "0.5", "1.6")
	if err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}
	if snap.AlarmState != alarm.StateUnacked {
		t.Errorf("state = %s; want ALARM_UNACKED", snap.AlarmState)
	}
	if snap.AlarmID != "alarm-1" {
		t.Errorf("AlarmID = %q; want the ongoing episode alarm-1", snap.AlarmID)
	}
	if got := f.alarmLogs(); got != 2 {
		t.Errorf("ec alarm logs = %d; want 2", got)
	}
}

func TestTick_clearsAcknowledgedAlarm(t *testing.T) {
	f := newFixture(t, afterInit(0.0, 0.5, 0.5))
	ctx := context.Background()
	if err := f.dash.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := f.dash.UpdateThresholds(ctx, "1.60", "1.69"); err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}
	snap, err := f.dash.Acknowledge(ctx)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if snap.AlarmState != alarm.StateAcked {
		t.Fatalf("state before tick = %s; want ALARM_ACKED", snap.AlarmState)
	}

	f.sched.Advance(10 * time.Second)
	snap = f.dash.Snapshot()
	if !almostEqual(snap.EC, 1.625) {
		t.Errorf("EC = %v; want 1.625", snap.EC)
	}
	if snap.AlarmState != alarm.StateNormal {
		t.Errorf("state after tick = %s; want NORMAL", snap.AlarmState)
	}
	if snap.Alarm.IsAlarm || snap.Alarm.Acknowledged {
		t.Errorf("Alarm = %+v; want cleared and unacknowledged", snap.Alarm)
	}
	if snap.AlarmID != "" {
		t.Errorf("AlarmID = %q; want empty outside an episode", snap.AlarmID)
	}
}

func TestUpdateThresholds_rejected(t *testing.T) {
	tests := []struct {
		name     string
		min, max string
		kind     alarm.Kind
	}{
		{name: "non-numeric", min: "abc", max: "2.0", kind: alarm.KindNonNumeric},
		{name: "empty", min: "", max: "2.0", kind: alarm.KindNonNumeric},
		{name: "inverted", min: "2.0", max: "1.2", kind: alarm.KindMinNotLessThanMax},
		{name: "equal", min: "1.5", max: "1.5", kind: alarm.KindMinNotLessThanMax},
		{name: "unsafe", min: "0.4", max: "2.0", kind: alarm.KindOutOfSafetyBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, telemetry.NewSequence())
			ctx := context.Background()
			if _, err := f.dash.UpdateThresholds(ctx, "0.5", "1.5"); err != nil {
				t.Fatalf("UpdateThresholds: %v", err)
			}
			if _, err := f.dash.Acknowledge(ctx); err != nil {
				t.Fatalf("Acknowledge: %v", err)
			}

			snap, err := f.dash.UpdateThresholds(ctx, tt.min, tt.max)
			var ve *alarm.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v; want *alarm.ValidationError", err)
			}
			if ve.Kind != tt.kind {
				t.Errorf("Kind = %s; want %s", ve.Kind, tt.kind)
			}
			if snap.Thresholds != (alarm.Range{Min: 0.5, Max: 1.5}) {
				t.Errorf("Thresholds = %v; want unchanged 0.5 - 1.5", snap.Thresholds)
			}
			if snap.AlarmState != alarm.StateAcked {
				t.Errorf("state = %s; want ALARM_ACKED untouched", snap.AlarmState)
			}
			want := fmt.Sprintf(`hydro_threshold_rejections_total{kind=%q} 1`, tt.kind)
			if !strings.Contains(f.exposition(t), want) {
				t.Errorf("exposition missing %q", want)
			}
		})
	}
}

func TestRequestRefresh(t *testing.T) {
	f := newFixture(t, afterInit(0.25, 0.75))
	ctx := context.Background()

	accepted, err := f.dash.RequestRefresh(ctx)
	if err != nil || !accepted {
		t.Fatalf("RequestRefresh = %v, %v; want true, nil", accepted, err)
	}
	if !f.dash.Snapshot().Refreshing {
		t.Fatal("Refreshing = false right after request")
	}

	accepted, err = f.dash.RequestRefresh(ctx)
	if err != nil || accepted {
		t.Fatalf("duplicate RequestRefresh = %v, %v; want false, nil", accepted, err)
	}
	if got := f.sched.Pending(); got != 1 {
		t.Fatalf("Pending() = %d; want 1 refresh timer", got)
	}

	f.sched.Advance(999 * time.Millisecond)
	if !f.dash.Snapshot().Refreshing {
		t.Fatal("refresh completed before its delay")
	}

	f.sched.Advance(time.Millisecond)
	snap := f.dash.Snapshot()
	if snap.Refreshing {
		t.Error("Refreshing = true after delay")
	}
	if !almostEqual(snap.EC, 1.55) {
		t.Errorf("EC = %v; want 1.55", snap.EC)
	}
	if !almostEqual(snap.WaterLevel, 80) {
		t.Errorf("WaterLevel = %v; want 80", snap.WaterLevel)
	}
	if len(snap.Series) != telemetry.WindowSize {
		t.Errorf("len(Series) = %d; want %d", len(snap.Series), telemetry.WindowSize)
	}
	if !strings.Contains(f.logs.String(), "data refreshed") {
		t.Error("refresh not logged")
	}

	accepted, err = f.dash.RequestRefresh(ctx)
	if err != nil || !accepted {
		t.Fatalf("RequestRefresh after completion = %v, %v; want true, nil", accepted, err)
	}
}

func TestStop_cancelsTimersAndSubscriptions(t *testing.T) {
	f := newFixture(t, telemetry.NewSequence())
	ctx := context.Background()
	if err := f.dash.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.dash.RequestRefresh(ctx); err != nil {
		t.Fatalf("RequestRefresh: %v", err)
	}
	ch, _ := f.dash.Subscribe()
	<-ch

	if err := f.dash.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.sched.Pending(); got != 0 {
		t.Fatalf("Pending() after Stop = %d; want 0", got)
	}
	if f.dash.Snapshot().Refreshing {
		t.Error("Refreshing = true after Stop")
	}

	f.sched.Advance(time.Minute)
	if !strings.Contains(f.exposition(t), "hydro_simulation_ticks_total 0") {
		t.Error("tick ran after Stop")
	}
	if _, ok := <-ch; ok {
		t.Error("subscription still open after Stop")
	}

	late, _ := f.dash.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe after Stop returned an open channel")
	}
}

func TestStop_rejectsLaterCommands(t *testing.T) {
	f := newFixture(t, telemetry.NewSequence())
	ctx := context.Background()
	if err := f.dash.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.dash.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	accepted, err := f.dash.RequestRefresh(ctx)
	if !errors.Is(err, schedule.ErrStopped) || accepted {
		t.Errorf("RequestRefresh after Stop = %v, %v; want false, ErrStopped", accepted, err)
	}
	if err := f.dash.Start(ctx); !errors.Is(err, schedule.ErrStopped) {
		t.Errorf("Start after Stop = %v; want ErrStopped", err)
	}
	if got := f.sched.Pending(); got != 0 {
		t.Errorf("Pending() = %d; want 0 after Stop", got)
	}
	if f.dash.Snapshot().Refreshing {
		t.Error("Refreshing = true after Stop")
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, afterInit(0.9, 0.9, 0.9, 0.1, 0.1, 0.9))
	if err := f.dash.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ch, cancel := f.dash.Subscribe()
	first := <-ch
	if first.EC != telemetry.InitialEC {
		t.Errorf("initial EC = %v; want %v", first.EC, telemetry.InitialEC)
	}

	// Two ticks without reading: only the newest survives.
	f.sched.Advance(20 * time.Second)
	got := <-ch
	if !almostEqual(got.EC, 1.70) {
		t.Errorf("EC = %v; want 1.70 after up then down", got.EC)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected stale snapshot: %+v", extra)
	default:
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
	if !strings.Contains(f.exposition(t), "hydro_live_subscribers 0") {
		t.Error("subscriber gauge not reset")
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t, telemetry.NewSequence())
	rows, err := f.dash.Export(context.Background())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	snap := f.dash.Snapshot()
	if len(rows) != len(snap.Series) {
		t.Fatalf("len(rows) = %d; want %d", len(rows), len(snap.Series))
	}
	for i, row := range rows {
		if row.Timestamp != snap.Series[i].Label {
			t.Errorf("rows[%d].Timestamp = %q; want %q", i, row.Timestamp, snap.Series[i].Label)
		}
		if row.EC != snap.Series[i].Value {
			t.Errorf("rows[%d].EC = %v; want %v", i, row.EC, snap.Series[i].Value)
		}
		if row.WaterLevel != snap.WaterLevel {
			t.Errorf("rows[%d].WaterLevel = %v; want %v with zero jitter", i, row.WaterLevel, snap.WaterLevel)
		}
	}
}

func TestDashboard_onSerialScheduler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := schedule.NewSerial(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	dash, err := New(sched, telemetry.NewSimulator(telemetry.NewSource(7), nil), metrics.New(), logger, Options{
		Farm:         config.DefaultFarmProfile(),
		TickInterval: 10 * time.Millisecond,
		RefreshDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := dash.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ch, stop := dash.Subscribe()
	defer stop()
	first := <-ch

	select {
	case next := <-ch:
		if !next.LastUpdate.After(first.LastUpdate) && next.EC == first.EC {
			t.Errorf("tick published an unchanged snapshot")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick within 2s")
	}

	if _, err := dash.UpdateThresholds(ctx, "1.0", "2.4"); err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}
	if err := dash.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sched.Close()
	if err := dash.Stop(ctx); err != nil {
		t.Fatalf("Stop after Close: %v", err)
	}
}
