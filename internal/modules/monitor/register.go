package monitor

import (
	"net/http"

	"hydrobloom-server/internal/modules/monitor/controller"
)

func RegisterFeature(mux *http.ServeMux, dashboard controller.Dashboard) {
	monitorController := controller.NewMonitorController(dashboard)
	monitorController.RegisterRoutes(mux)
}
