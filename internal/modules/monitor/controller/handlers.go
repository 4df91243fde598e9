package controller

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"hydrobloom-server/internal/alarm"
	"hydrobloom-server/internal/modules/monitor/views"
	"hydrobloom-server/internal/utils"
)

func (c *monitorControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := views.DashboardData{Status: views.NewStatusData(c.dashboard.Snapshot())}
	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, &data); err != nil {
		slog.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("dashboard: write response failed", "error", err)
	}
}

func (c *monitorControllerImpl) handleStatusPartial(w http.ResponseWriter, r *http.Request) {
	data := views.NewStatusData(c.dashboard.Snapshot())
	var buf bytes.Buffer
	if err := views.RenderStatusPartial(&buf, &data); err != nil {
		slog.Error("status partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("status partial: write response failed", "error", err)
	}
}

func (c *monitorControllerImpl) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, c.dashboard.Snapshot())
}

func (c *monitorControllerImpl) handleRefresh(w http.ResponseWriter, r *http.Request) {
	accepted, err := c.dashboard.RequestRefresh(r.Context())
	if err != nil {
		writeDashboardError(w, "refresh", err)
		return
	}
	utils.WriteJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

func (c *monitorControllerImpl) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	snap, err := c.dashboard.Acknowledge(r.Context())
	if err != nil {
		writeDashboardError(w, "acknowledge", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, snap)
}

func (c *monitorControllerImpl) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	minText, maxText, err := parseThresholdsRequest(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := c.dashboard.UpdateThresholds(r.Context(), minText, maxText)
	if err != nil {
		var ve *alarm.ValidationError
		if errors.As(err, &ve) {
			if isHTMX(r) {
				writeThresholdResult(w, http.StatusUnprocessableEntity, &views.ThresholdResult{Kind: string(ve.Kind), Message: ve.Message})
				return
			}
			utils.WriteErrorKind(w, http.StatusUnprocessableEntity, string(ve.Kind), ve.Message)
			return
		}
		writeDashboardError(w, "update thresholds", err)
		return
	}
	if isHTMX(r) {
		writeThresholdResult(w, http.StatusOK, &views.ThresholdResult{Range: snap.Thresholds.String()})
		return
	}
	utils.WriteJSON(w, http.StatusOK, snap)
}

func (c *monitorControllerImpl) handleResetThresholds(w http.ResponseWriter, r *http.Request) {
	snap, err := c.dashboard.ResetThresholds(r.Context())
	if err != nil {
		writeDashboardError(w, "reset thresholds", err)
		return
	}
	if isHTMX(r) {
		writeThresholdResult(w, http.StatusOK, &views.ThresholdResult{Range: snap.Thresholds.String()})
		return
	}
	utils.WriteJSON(w, http.StatusOK, snap)
}

func (c *monitorControllerImpl) handleExport(w http.ResponseWriter, r *http.Request) {
	rows, err := c.dashboard.Export(r.Context())
	if err != nil {
		writeDashboardError(w, "export", err)
		return
	}

	unit := c.dashboard.Snapshot().Unit
	header := []string{"Timestamp", fmt.Sprintf("EC (%s)", unit), "Water Level (%)"}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.Timestamp,
			strconv.FormatFloat(row.EC, 'f', 2, 64),
			strconv.FormatFloat(row.WaterLevel, 'f', 1, 64),
		})
	}
	utils.WriteCSV(w, exportFilename(c.now()), header, records)
}
