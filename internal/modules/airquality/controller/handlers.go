package controller

import (
	"net/http"

	"airdetect/internal/utils"
)

// handleHistory returns the retained readings oldest first, or only the last
// ?limit=n of them.
func (c *airQualityControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok, err := utils.ParseLimit(r.URL.Query(), maxHistoryLimit)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		utils.WriteJSON(w, http.StatusOK, c.repository.Recent(limit))
		return
	}
	utils.WriteJSON(w, http.StatusOK, c.repository.Snapshot())
}

// handleLatest writes the newest reading, or null before the first one arrives.
func (c *airQualityControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, ok := c.repository.Latest()
	if !ok {
		utils.WriteJSON(w, http.StatusOK, nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, latest)
}
