package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"hydrobloom-server/internal/modules/monitor/views"
	"hydrobloom-server/internal/schedule"
	"hydrobloom-server/internal/utils"
)

const maxThresholdsBody = 1 << 10

// numericText accepts a JSON string or number and keeps its text form, so
// validation of operator input happens in one place.
type numericText string

func (n *numericText) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numericText(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("expected a number or a string, got %s", b)
	}
	*n = numericText(num.String())
	return nil
}

type thresholdsRequest struct {
	Min numericText `json:"min"`
	Max numericText `json:"max"`
}

// parseThresholdsRequest reads min and max from a JSON body or from form values.
func parseThresholdsRequest(r *http.Request) (minText, maxText string, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req thresholdsRequest
		dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxThresholdsBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return "", "", fmt.Errorf("invalid JSON body: %w", err)
		}
		return string(req.Min), string(req.Max), nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxThresholdsBody)
	if err := r.ParseForm(); err != nil {
		return "", "", errors.New("invalid form body")
	}
	return r.PostFormValue("min"), r.PostFormValue("max"), nil
}

// isHTMX reports whether the request came from the dashboard page, which
// expects HTML fragments instead of JSON.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// writeThresholdResult renders the threshold form feedback with status.
func writeThresholdResult(w http.ResponseWriter, status int, res *views.ThresholdResult) {
	var buf bytes.Buffer
	if err := views.RenderThresholdResult(&buf, res); err != nil {
		slog.Error("thresholds partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("thresholds partial: write response failed", "error", err)
	}
}

// writeDashboardError maps scheduler and context failures to 503.
func writeDashboardError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, schedule.ErrStopped):
		utils.WriteError(w, http.StatusServiceUnavailable, "simulation is stopped")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		utils.WriteError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		slog.Error("dashboard command failed", "op", op, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func exportFilename(now time.Time) string {
	return "hydroponic-data-" + now.UTC().Format(time.DateOnly) + ".csv"
}
