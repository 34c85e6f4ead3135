package httpapi

import (
	"net/http"

	"airdetect/internal/ingest"
	"airdetect/internal/utils"
)

// IngestState reports the ingestion listener lifecycle.
type IngestState interface {
	State() ingest.State
}

// Sizer is satisfied by the history repository and the fan-out hub.
type Sizer interface {
	Len() int
}

type healthResponse struct {
	Status      string `json:"status"`
	Ingest      string `json:"ingest"`
	History     int    `json:"history"`
	Subscribers int    `json:"subscribers"`
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	ingest      IngestState
	history     Sizer
	subscribers Sizer
}

func NewHealthchecker(state IngestState, history Sizer, subscribers Sizer) healthchecker {
	return &healthcheckerImpl{ingest: state, history: history, subscribers: subscribers}
}

// handleHealthz answers 503 unless datagrams are being received.
func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := h.ingest.State()
	resp := healthResponse{
		Status:      "ok",
		Ingest:      state.String(),
		History:     h.history.Len(),
		Subscribers: h.subscribers.Len(),
	}
	if state != ingest.StateRunning {
		resp.Status = "degraded"
		utils.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func registerHealthcheck(mux *http.ServeMux, state IngestState, history Sizer, subscribers Sizer) {
	healthchecker := NewHealthchecker(state, history, subscribers)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
