package httpapi

import (
	"net/http"

	"airdetect/internal/metrics"
)

// RegisterRoutes adds the operational endpoints to mux.
func RegisterRoutes(mux *http.ServeMux, state IngestState, history Sizer, subscribers Sizer, m *metrics.Metrics) {
	registerHealthcheck(mux, state, history, subscribers)
	mux.Handle("GET /metrics", m.Handler())
}
