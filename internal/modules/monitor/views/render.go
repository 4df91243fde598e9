package views

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"math"
	"strings"

	"hydrobloom-server/internal/modules/monitor/types"
	"hydrobloom-server/internal/telemetry"
)

const (
	chartWidth  = 480.0
	chartHeight = 120.0
)

var dashboardTmpl *template.Template

// loadTemplatesFromFS loads dashboard templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	dashboardTmpl, err = template.ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	return nil
}

// LoadTemplates loads embedded dashboard templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// StatusData is the view model for the live status partial.
type StatusData struct {
	types.Snapshot

	ECText       string
	TrendText    string
	TrendUp      bool
	WaterText    string
	UpdatedText  string
	ChartPoints  string
	ChartMinY    float64
	ChartMaxY    float64
	ChartFirst   string
	ChartLast    string
	AlarmMessage string
}

type DashboardData struct {
	Status StatusData
}

// ThresholdResult is the outcome of a threshold form submission. Message is
// empty when the range was applied.
type ThresholdResult struct {
	Kind    string
	Message string
	Range   string
}

func NewStatusData(snap types.Snapshot) StatusData {
	d := StatusData{
		Snapshot:    snap,
		ECText:      fmt.Sprintf("%.1f", snap.EC),
		TrendText:   fmt.Sprintf("%.2f", math.Abs(snap.Trend)),
		TrendUp:     snap.Trend >= 0,
		WaterText:   fmt.Sprintf("%.0f", snap.WaterLevel),
		ChartPoints: chartPoints(snap.Series),
		ChartMinY:   chartY(snap.Thresholds.Min),
		ChartMaxY:   chartY(snap.Thresholds.Max),
	}
	if !snap.LastUpdate.IsZero() {
		d.UpdatedText = snap.LastUpdate.Format(telemetry.LabelLayout)
	}
	if n := len(snap.Series); n > 0 {
		d.ChartFirst = snap.Series[0].Label
		d.ChartLast = snap.Series[n-1].Label
	}
	if snap.Alarm.IsAlarm {
		d.AlarmMessage = fmt.Sprintf("EC level is %s threshold (%.1f %s)", snap.Alarm.Direction, snap.EC, snap.Unit)
	}
	return d
}

// chartPoints renders the series as an SVG polyline scaled to the simulator's EC bounds.
func chartPoints(series []telemetry.Sample) string {
	if len(series) == 0 {
		return ""
	}
	step := 0.0
	if len(series) > 1 {
		step = chartWidth / float64(len(series)-1)
	}
	var b strings.Builder
	for i, s := range series {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.1f,%.1f", float64(i)*step, chartY(s.Value))
	}
	return b.String()
}

func chartY(ec float64) float64 {
	span := telemetry.ECMax - telemetry.ECMin
	frac := (ec - telemetry.ECMin) / span
	frac = math.Max(0, math.Min(1, frac))
	return math.Round((1-frac)*chartHeight*10) / 10
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}

// RenderStatusPartial executes only the status partial into w.
// Use for HTMX fragment refresh.
func RenderStatusPartial(w io.Writer, data *StatusData) error {
	if dashboardTmpl == nil {
		return errors.New("status template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "partials/status.html", data)
}

// RenderThresholdResult executes the threshold form feedback fragment into w.
func RenderThresholdResult(w io.Writer, data *ThresholdResult) error {
	if dashboardTmpl == nil {
		return errors.New("thresholds template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "partials/thresholds.html", data)
}
