package types

import (
	"time"

	"hydrobloom-server/internal/alarm"
	"hydrobloom-server/internal/telemetry"
)

const (
	SystemAlarm   = "ALARM"
	SystemOnline  = "Online"
	SystemOffline = "Offline"
)

// Snapshot is an immutable copy of the dashboard state.
type Snapshot struct {
	FarmName string `json:"farmName"`
	Unit     string `json:"unit"`

	EC         float64          `json:"ec"`
	Trend      float64          `json:"trend"`
	ECStatus   alarm.Status     `json:"ecStatus"`
	Alarm      alarm.AlarmState `json:"alarm"`
	AlarmState alarm.State      `json:"alarmState"`
	// AlarmID identifies the current alarm episode; empty while normal.
	AlarmID    string      `json:"alarmId,omitempty"`
	Thresholds alarm.Range `json:"thresholds"`

	WaterLevel    float64           `json:"waterLevel"`
	WaterStatus   alarm.WaterStatus `json:"waterStatus"`
	WaterHeightMM int               `json:"waterHeightMm"`

	Online       bool      `json:"online"`
	Refreshing   bool      `json:"refreshing"`
	SystemStatus string    `json:"systemStatus"`
	LastUpdate   time.Time `json:"lastUpdate"`

	Series []telemetry.Sample `json:"series"`
}

// ExportRow is one line of the CSV export.
type ExportRow struct {
	Timestamp  string
	EC         float64
	WaterLevel float64
}
