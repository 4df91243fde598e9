package httpapi

import (
	"log/slog"
	"net/http"

	"hydrobloom-server/internal/utils"
)

// runner reports whether the simulation queue is processing jobs.
type runner interface {
	Running() bool
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	queue runner
}

func NewHealthchecker(queue runner) healthchecker {
	return &healthcheckerImpl{queue: queue}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !h.queue.Running() {
		slog.Error("simulation queue is not running")
		utils.WriteError(w, http.StatusServiceUnavailable, "simulation queue is not running")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, queue runner) {
	healthchecker := NewHealthchecker(queue)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
