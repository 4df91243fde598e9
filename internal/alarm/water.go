package alarm

import "fmt"

type WaterStatus string

const (
	WaterNormal   WaterStatus = "normal"
	WaterLow      WaterStatus = "low"
	WaterCritical WaterStatus = "critical"
)

// WaterThresholds are sump-tank fill levels in percent. Water level has no
// acknowledgment state.
type WaterThresholds struct {
	Low      float64 `json:"low" yaml:"low_pct"`
	Critical float64 `json:"critical" yaml:"critical_pct"`
}

var DefaultWaterThresholds = WaterThresholds{Low: 20, Critical: 10}

func (w WaterThresholds) Validate() error {
	if !finite(w.Low) || !finite(w.Critical) {
		return fmt.Errorf("water thresholds must be finite numbers, got low=%v critical=%v", w.Low, w.Critical)
	}
	if w.Critical < 0 || w.Low > 100 {
		return fmt.Errorf("water thresholds must lie within 0-100%%, got low=%v critical=%v", w.Low, w.Critical)
	}
	if w.Critical > w.Low {
		return fmt.Errorf("water critical threshold %v must not exceed low threshold %v", w.Critical, w.Low)
	}
	return nil
}

// WaterLevelStatus classifies level; critical takes precedence over low.
func WaterLevelStatus(level float64, t WaterThresholds) WaterStatus {
	switch {
	case level < t.Critical:
		return WaterCritical
	case level < t.Low:
		return WaterLow
	default:
		return WaterNormal
	}
}
