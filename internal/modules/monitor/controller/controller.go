package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hydrobloom-server/internal/modules/monitor/types"
)

// Dashboard is the live state the controller reads and commands.
type Dashboard interface {
	Snapshot() types.Snapshot
	Subscribe() (<-chan types.Snapshot, func())
	RequestRefresh(ctx context.Context) (bool, error)
	Acknowledge(ctx context.Context) (types.Snapshot, error)
	UpdateThresholds(ctx context.Context, minText, maxText string) (types.Snapshot, error)
	ResetThresholds(ctx context.Context) (types.Snapshot, error)
	Export(ctx context.Context) ([]types.ExportRow, error)
}

type MonitorController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type monitorControllerImpl struct {
	dashboard    Dashboard
	upgrader     websocket.Upgrader
	now          func() time.Time
	pingInterval time.Duration
}

func NewMonitorController(dashboard Dashboard) MonitorController {
	return &monitorControllerImpl{
		dashboard: dashboard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now:          time.Now,
		pingInterval: 30 * time.Second,
	}
}

func (c *monitorControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", c.handleDashboard)
	mux.HandleFunc("GET /partials/status", c.handleStatusPartial)
	mux.HandleFunc("GET /api/v1/snapshot", c.handleSnapshot)
	mux.HandleFunc("POST /api/v1/refresh", c.handleRefresh)
	mux.HandleFunc("POST /api/v1/alarm/ack", c.handleAcknowledge)
	mux.HandleFunc("PUT /api/v1/thresholds", c.handleUpdateThresholds)
	mux.HandleFunc("DELETE /api/v1/thresholds", c.handleResetThresholds)
	mux.HandleFunc("GET /api/v1/export.csv", c.handleExport)
	mux.HandleFunc("GET /ws", c.handleWebsocket)
}
