package httpapi

import (
	"net/http"
)

func NewMux(queue runner, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, queue)
	mux.Handle("GET /metrics", metrics)
	return mux
}
